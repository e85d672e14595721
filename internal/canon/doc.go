// Package canon provides stable, order-independent serialization of values
// used as cache keys throughout storekit.
//
// Two argument lists that differ only in map key order (or in how their
// structs are spelled in Go) produce the same key. Resolution records, fetch
// records, error records and the GET cache of apifetch are all keyed through
// this package.
//
// Serialization follows RFC 8785 where it matters for equality:
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - No HTML escaping
//   - Strings NFC normalized
//   - Integers printed without exponent, floats in shortest round-trip form
//
// Unlike strict canonical JSON, null is permitted: an absent optional
// argument is a legitimate cache key component.
package canon
