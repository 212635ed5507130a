/*
Package config loads attribution run settings from YAML or JSON files.

A loaded document is wrapped in Config. Its accessors return the default
when a key is missing, and a *KeyError when the value cannot be converted:

	cfg, err := config.FromFile("attribution.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	window, err := cfg.Section("window")
	if err != nil {
	    log.Fatal(err)
	}
	start, err := window.Time("start", time.Time{})

Decode maps a document onto Settings, and Settings.Engine produces the
attribution.Config handed to the engine. Decode reports every invalid key
at once, joined with errors.Join. Instants may be written as RFC 3339
strings, bare dates, or unix seconds/milliseconds.

Config is safe for concurrent reads; the map is never modified after creation.
*/
package config
