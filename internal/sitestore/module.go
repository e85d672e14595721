package sitestore

import (
	"context"
	"maps"
	"net/url"
	"reflect"
	"strings"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/compose"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/fetchstore"
	"github.com/roach88/storekit/internal/registry"
	"github.com/roach88/storekit/internal/snapshot"
	"github.com/roach88/storekit/internal/tagstore"
)

// Module store member names.
const (
	SelectSettings            = "getSettings"
	SelectSetting             = "getSetting"
	SelectHaveSettingsChanged = "haveSettingsChanged"
	SelectAccounts            = "getAccounts"
	SelectServiceURL          = "getServiceURL"

	ActionSetSetting    = "setSetting"
	ActionSubmitChanges = "submitChanges"

	fetchGetSettings  = "getSettings"
	fetchSaveSettings = "saveSettings"
	fetchGetAccounts  = "getAccounts"

	// SettingsGroup tags cached settings reads; a save invalidates it.
	SettingsGroup = "settings"
)

// DefaultServiceURL is the base of service links when Options.ServiceURL
// is empty.
const DefaultServiceURL = "https://analytics.google.com/analytics/web/"

// Account is a remote account the module can connect to.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the module store state. Settings and Accounts are nil until
// loaded.
type State struct {
	Settings      map[string]any       `json:"settings"`
	SavedSettings map[string]any       `json:"savedSettings"`
	Accounts      []Account            `json:"accounts"`
	ExistingTag   tagstore.ExistingTag `json:"existingTag"`
}

// Options configure the module store.
type Options struct {
	// Slug names the module. The store registers as "modules/<slug>".
	Slug string

	Client *apifetch.Client

	// Scanner detects an existing tag. When nil, TagURLs are scanned for
	// measurement IDs.
	Scanner tagstore.Scanner
	TagURLs []string

	// Persister enables createSnapshot and restoreSnapshot when set.
	Persister snapshot.Persister

	ServiceURL string
}

// StoreName returns the registry name of the module store for slug.
func StoreName(slug string) string {
	return "modules/" + slug
}

type setSetting struct {
	Key   string
	Value any
}

func (setSetting) ActionType() string { return ActionSetSetting }

// Module builds the module store.
func Module(opts Options) (registry.Definition[State], error) {
	if opts.Slug == "" || opts.Client == nil {
		return registry.Definition[State]{}, registry.Invalidf("sitestore", "slug and client are required")
	}
	store := StoreName(opts.Slug)
	dataPath := func(endpoint string) string {
		return store + "/data/" + endpoint
	}
	client := opts.Client

	getSettings, err := fetchstore.New(fetchstore.Config[State, struct{}, map[string]any]{
		BaseName: fetchGetSettings,
		Control: func(ctx context.Context, _ struct{}) (map[string]any, error) {
			v, err := client.Get(ctx, apifetch.Request{Path: dataPath("settings"), Group: SettingsGroup})
			if err != nil {
				return nil, err
			}
			return apifetch.Decode[map[string]any](v)
		},
		Reducer: receiveSettings,
	})
	if err != nil {
		return registry.Definition[State]{}, err
	}

	saveSettings, err := fetchstore.New(fetchstore.Config[State, map[string]any, map[string]any]{
		BaseName: fetchSaveSettings,
		ArgsToParams: func(args registry.Args) (map[string]any, error) {
			settings, ok := args.At(0).(map[string]any)
			if !ok {
				return nil, registry.Invalidf(fetchSaveSettings, "settings must be an object")
			}
			return settings, nil
		},
		Control: func(ctx context.Context, settings map[string]any) (map[string]any, error) {
			v, err := client.Set(ctx, apifetch.Request{Path: dataPath("settings"), Data: settings})
			if err != nil {
				return nil, err
			}
			client.Invalidate(SettingsGroup)
			return apifetch.Decode[map[string]any](v)
		},
		Reducer: func(state State, saved map[string]any, _ map[string]any) State {
			return receiveSettings(state, saved, struct{}{})
		},
	})
	if err != nil {
		return registry.Definition[State]{}, err
	}

	getAccounts, err := fetchstore.New(fetchstore.Config[State, struct{}, []Account]{
		BaseName: fetchGetAccounts,
		Control: func(ctx context.Context, _ struct{}) ([]Account, error) {
			v, err := client.Get(ctx, apifetch.Request{Path: dataPath("accounts")})
			if err != nil {
				return nil, err
			}
			return apifetch.Decode[[]Account](v)
		},
		Reducer: func(state State, accounts []Account, _ struct{}) State {
			if accounts == nil {
				accounts = []Account{}
			}
			state.Accounts = accounts
			return state
		},
	})
	if err != nil {
		return registry.Definition[State]{}, err
	}

	scanner := opts.Scanner
	if scanner == nil {
		scanner = &tagstore.PageScanner{
			Client:   client,
			URLs:     opts.TagURLs,
			Matchers: tagstore.MeasurementIDMatchers,
		}
	}
	tags, err := tagstore.Fragment(tagstore.Config[State]{
		Store:   store,
		Get:     func(s State) tagstore.ExistingTag { return s.ExistingTag },
		Set:     func(s State, tag tagstore.ExistingTag) State { s.ExistingTag = tag; return s },
		Scanner: scanner,
	})
	if err != nil {
		return registry.Definition[State]{}, err
	}

	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}

	own := registry.Definition[State]{
		Reducer: func(state State, action registry.Action) State {
			if a, ok := action.(setSetting); ok {
				settings := maps.Clone(state.Settings)
				if settings == nil {
					settings = make(map[string]any)
				}
				settings[a.Key] = a.Value
				state.Settings = settings
			}
			return state
		},
		Selectors: map[string]registry.Selector[State]{
			SelectSettings: func(state State, _ registry.Args) (any, error) {
				if state.Settings == nil {
					return nil, nil
				}
				return maps.Clone(state.Settings), nil
			},
			SelectSetting: func(state State, args registry.Args) (any, error) {
				key, err := args.String(0)
				if err != nil {
					return nil, err
				}
				return state.Settings[key], nil
			},
			SelectHaveSettingsChanged: func(state State, _ registry.Args) (any, error) {
				return !reflect.DeepEqual(state.Settings, state.SavedSettings), nil
			},
			SelectAccounts: func(state State, _ registry.Args) (any, error) {
				if state.Accounts == nil {
					return nil, nil
				}
				return state.Accounts, nil
			},
		},
		Resolvers: map[string]registry.Resolver{
			SelectSettings: resolveOnce(fetchGetSettings, func(s State) bool { return s.Settings != nil }),
			SelectSetting:  resolveOnce(fetchGetSettings, func(s State) bool { return s.Settings != nil }),
			SelectAccounts: resolveOnce(fetchGetAccounts, func(s State) bool { return s.Accounts != nil }),
		},
		RegistrySelectors: map[string]registry.RegistrySelector[State]{
			// nil until the reference site URL is known.
			SelectServiceURL: registry.CreateRegistrySelector(func(sel registry.SelectFunc) registry.Selector[State] {
				return func(_ State, args registry.Args) (any, error) {
					site, err := sel(SiteStore, SelectReferenceSiteURL)
					if err != nil || site == nil {
						return nil, err
					}
					path := ""
					if len(args) > 0 {
						if path, err = args.String(0); err != nil {
							return nil, err
						}
					}
					return buildServiceURL(serviceURL, path, site.(string))
				}
			}),
		},
		Actions: map[string]registry.ActionCreator{
			ActionSetSetting: registry.ActionFunc(ActionSetSetting, func(args registry.Args) (registry.Action, error) {
				key, err := args.String(0)
				if err != nil {
					return nil, err
				}
				return setSetting{Key: key, Value: args.At(1)}, nil
			}),
			ActionSubmitChanges: func(c *registry.Context, _ registry.Args) engine.Step {
				state, _ := c.State().(State)
				settings := state.Settings
				if settings == nil {
					settings = map[string]any{}
				}
				return c.Invoke(fetchstore.NamesFor(fetchSaveSettings).Fetch, settings)
			},
		},
	}

	fragments := []registry.Definition[State]{getSettings, saveSettings, getAccounts, tags, own}
	if opts.Persister != nil {
		snap, err := snapshot.Fragment[State](store, opts.Persister)
		if err != nil {
			return registry.Definition[State]{}, err
		}
		fragments = append(fragments, snap)
	}
	return compose.Combine(fragments...)
}

// Register registers the site store and the module store described by opts.
func Register(r *registry.Registry, opts Options) error {
	site, err := Site(opts.Client)
	if err != nil {
		return err
	}
	if err := registry.Register(r, SiteStore, site); err != nil {
		return err
	}
	module, err := Module(opts)
	if err != nil {
		return err
	}
	return registry.Register(r, StoreName(opts.Slug), module)
}

func receiveSettings(state State, settings map[string]any, _ struct{}) State {
	if settings == nil {
		settings = map[string]any{}
	}
	state.Settings = maps.Clone(settings)
	state.SavedSettings = maps.Clone(settings)
	return state
}

// resolveOnce fetches through the fetch action of base unless loaded
// reports the data is already in state.
func resolveOnce(base string, loaded func(State) bool) registry.Resolver {
	fetch := fetchstore.NamesFor(base).Fetch
	return func(c *registry.Context, _ registry.Args) engine.Step {
		if state, ok := c.State().(State); ok && loaded(state) {
			return engine.Return(nil)
		}
		return engine.Then(c.Invoke(fetch), func(_ any, err error) engine.Step {
			if err != nil {
				return engine.Fail(err)
			}
			return engine.Return(nil)
		})
	}
}

func buildServiceURL(base, path, siteURL string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", registry.Invalidf(SelectServiceURL, "invalid service URL %q: %v", base, err)
	}
	if path != "" {
		u.Fragment = "/" + strings.TrimPrefix(path, "/")
	}
	q := u.Query()
	q.Set("siteURL", siteURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
