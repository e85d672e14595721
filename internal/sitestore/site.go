// Package sitestore assembles the example stores: a site store exposing
// the host site's URLs and a module store composed from fetch fragments,
// the existing-tag fragment, a cross-store service URL selector and the
// snapshot fragment.
package sitestore

import (
	"context"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/compose"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/fetchstore"
	"github.com/roach88/storekit/internal/registry"
)

// SiteStore is the registry name of the site store.
const SiteStore = "core/site"

// Site store member names.
const (
	SelectSiteInfo         = "getSiteInfo"
	SelectReferenceSiteURL = "getReferenceSiteURL"
	SelectHomeURL          = "getHomeURL"
	SelectAdminURL         = "getAdminURL"

	siteInfoPath = "core/site/data/site-info"
)

// SiteInfo describes the host site.
type SiteInfo struct {
	ReferenceSiteURL string `json:"referenceSiteURL"`
	HomeURL          string `json:"homeURL"`
	AdminURL         string `json:"adminURL"`
}

// SiteState is the site store state. Info is nil until loaded.
type SiteState struct {
	Info *SiteInfo `json:"info"`
}

// Site builds the site store over client.
func Site(client *apifetch.Client) (registry.Definition[SiteState], error) {
	if client == nil {
		return registry.Definition[SiteState]{}, registry.Invalidf(SiteStore, "client is required")
	}
	names := fetchstore.NamesFor(SelectSiteInfo)

	fetch, err := fetchstore.New(fetchstore.Config[SiteState, struct{}, SiteInfo]{
		BaseName: SelectSiteInfo,
		Control: func(ctx context.Context, _ struct{}) (SiteInfo, error) {
			v, err := client.Get(ctx, apifetch.Request{Path: siteInfoPath, Group: "site"})
			if err != nil {
				return SiteInfo{}, err
			}
			return apifetch.Decode[SiteInfo](v)
		},
		Reducer: func(state SiteState, info SiteInfo, _ struct{}) SiteState {
			state.Info = &info
			return state
		},
	})
	if err != nil {
		return registry.Definition[SiteState]{}, err
	}

	field := func(get func(SiteInfo) string) registry.Selector[SiteState] {
		return func(state SiteState, _ registry.Args) (any, error) {
			if state.Info == nil {
				return nil, nil
			}
			return get(*state.Info), nil
		}
	}
	resolve := func(c *registry.Context, _ registry.Args) engine.Step {
		if state, ok := c.State().(SiteState); ok && state.Info != nil {
			return engine.Return(nil)
		}
		return engine.Then(c.Invoke(names.Fetch), func(_ any, err error) engine.Step {
			if err != nil {
				return engine.Fail(err)
			}
			return engine.Return(nil)
		})
	}

	own := registry.Definition[SiteState]{
		Selectors: map[string]registry.Selector[SiteState]{
			SelectSiteInfo: func(state SiteState, _ registry.Args) (any, error) {
				if state.Info == nil {
					return nil, nil
				}
				return *state.Info, nil
			},
			SelectReferenceSiteURL: field(func(i SiteInfo) string { return i.ReferenceSiteURL }),
			SelectHomeURL:          field(func(i SiteInfo) string { return i.HomeURL }),
			SelectAdminURL:         field(func(i SiteInfo) string { return i.AdminURL }),
		},
		Resolvers: map[string]registry.Resolver{
			SelectSiteInfo:         resolve,
			SelectReferenceSiteURL: resolve,
			SelectHomeURL:          resolve,
			SelectAdminURL:         resolve,
		},
	}
	return compose.Combine(fetch, own)
}
