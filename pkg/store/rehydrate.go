package store

import (
	"reflect"

	"github.com/rs/zerolog"
)

// AutoRehydrate returns the enhancer that merges an ActionRehydrate payload
// into state after the wrapped reducer has handled the action.
//
// For each inbound slice that is registered:
//   - nil inbound values are ignored;
//   - if the reducer itself changed the slice while handling the rehydrate
//     action, the reducer's value wins;
//   - map values are shallow merged, inbound keys over current keys;
//   - any other value replaces the current one.
func AutoRehydrate(logger zerolog.Logger) Enhancer {
	logger = logger.With().Str("component", "rehydrate").Logger()
	return func(next RootReducer) RootReducer {
		return func(state State, action Action) (State, error) {
			reduced, err := next(state, action)
			if err != nil || action.Type != ActionRehydrate {
				return reduced, err
			}
			payload, ok := rehydrationOf(action.Payload)
			if !ok || len(payload.Slices) == 0 {
				return reduced, nil
			}
			return reconcile(state, payload.Slices, reduced, logger), nil
		}
	}
}

func rehydrationOf(payload any) (Rehydration, bool) {
	switch p := payload.(type) {
	case Rehydration:
		return p, true
	case *Rehydration:
		if p == nil {
			return Rehydration{}, false
		}
		return *p, true
	default:
		return Rehydration{}, false
	}
}

func reconcile(state State, inbound map[string]any, reduced State, logger zerolog.Logger) State {
	out := reduced.Clone()
	for key, value := range inbound {
		current, ok := state[key]
		if !ok {
			logger.Debug().Str("key", key).Msg("Ignoring inbound slice with no reducer")
			continue
		}
		if value == nil {
			continue
		}
		if !Equal(current, reduced[key]) {
			logger.Debug().Str("key", key).Msg("Slice modified by reducer during rehydrate, skipping")
			continue
		}
		if merged, ok := shallowMerge(current, value); ok {
			out[key] = merged
		} else {
			out[key] = value
		}
		logger.Debug().Str("key", key).Msg("Slice rehydrated")
	}
	return out
}

// shallowMerge merges two maps of the same type into a new map.
func shallowMerge(current, inbound any) (any, bool) {
	cv := reflect.ValueOf(current)
	iv := reflect.ValueOf(inbound)
	if cv.Kind() != reflect.Map || iv.Kind() != reflect.Map || cv.Type() != iv.Type() {
		return nil, false
	}
	if cv.IsNil() {
		return inbound, true
	}
	merged := reflect.MakeMapWithSize(cv.Type(), cv.Len()+iv.Len())
	iter := cv.MapRange()
	for iter.Next() {
		merged.SetMapIndex(iter.Key(), iter.Value())
	}
	iter = iv.MapRange()
	for iter.Next() {
		merged.SetMapIndex(iter.Key(), iter.Value())
	}
	return merged.Interface(), true
}
