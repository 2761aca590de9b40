// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[notify.Notifier]()
//	reg.Register("log", func(conf map[string]any) (notify.Notifier, error) {
//	    var c struct{ Prefix string `json:"prefix"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newLogNotifier(c.Prefix), nil
//	})
//	n, err := reg.Create(factory.ModuleConfig{Type: "log", Conf: map[string]any{"prefix": "offers"}})
package factory
