// Package reducers holds the application's slice reducers.
package reducers

import (
	"fmt"

	"github.com/statekeep/statekeep/pkg/store"
)

// Slice names.
const (
	CurrentComponent     = "currentComponent"
	CurrentTab           = "currentTab"
	TemporarySearchQuery = "temporarySearchQuery"
)

// Action types.
const (
	SelectComponent = "navigation/SELECT_COMPONENT"
	SelectTab       = "navigation/SELECT_TAB"
	SetSearchQuery  = "search/SET_QUERY"
	ClearSearch     = "search/CLEAR"
)

// DefaultTab is the tab shown when none was selected.
const DefaultTab = "overview"

// New returns a registry with the application slices.
func New() *store.Registry {
	r := store.NewRegistry()
	store.MustRegister(r, CurrentComponent, "", currentComponent)
	store.MustRegister(r, CurrentTab, DefaultTab, currentTab)
	store.MustRegister(r, TemporarySearchQuery, "", searchQuery)
	return r
}

func currentComponent(state string, action store.Action) (string, error) {
	if action.Type != SelectComponent {
		return state, nil
	}
	id, err := stringPayload(action)
	if err != nil {
		return state, err
	}
	return id, nil
}

// currentTab resets to DefaultTab when another component is selected.
func currentTab(state string, action store.Action) (string, error) {
	switch action.Type {
	case SelectTab:
		tab, err := stringPayload(action)
		if err != nil {
			return state, err
		}
		if tab == "" {
			return DefaultTab, nil
		}
		return tab, nil
	case SelectComponent:
		return DefaultTab, nil
	}
	return state, nil
}

func searchQuery(state string, action store.Action) (string, error) {
	switch action.Type {
	case SetSearchQuery:
		return stringPayload(action)
	case ClearSearch, SelectComponent:
		return "", nil
	}
	return state, nil
}

func stringPayload(action store.Action) (string, error) {
	switch p := action.Payload.(type) {
	case string:
		return p, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%s expects a string payload, got %T", action.Type, action.Payload)
	}
}
