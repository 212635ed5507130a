package attribution

import "strings"

// subjectKey resolves the configured subject field on decisions and conversions.
// A field that exists on only one schema resolves as missing on the other.
type subjectKey struct {
	name       string
	attribute  string // set when the key selects a custom attribute
	onDecision func(*Decision) string
	onConv     func(*Conversion) string
}

// subjectFields lists the string fields usable as a subject key.
var subjectFields = map[string]subjectKey{
	"visitor_id": {
		onDecision: func(d *Decision) string { return d.VisitorID },
		onConv:     func(c *Conversion) string { return c.VisitorID },
	},
	"session_id": {
		onDecision: func(d *Decision) string { return d.SessionID },
		onConv:     func(c *Conversion) string { return c.SessionID },
	},
	"account_id": {
		onDecision: func(d *Decision) string { return d.AccountID },
		onConv:     func(c *Conversion) string { return c.AccountID },
	},
	"user_ip": {
		onDecision: func(d *Decision) string { return d.UserIP },
		onConv:     func(c *Conversion) string { return c.UserIP },
	},
	"user_agent": {
		onDecision: func(d *Decision) string { return d.UserAgent },
		onConv:     func(c *Conversion) string { return c.UserAgent },
	},
	"referer": {
		onDecision: func(d *Decision) string { return d.Referer },
		onConv:     func(c *Conversion) string { return c.Referer },
	},
	"revision": {
		onDecision: func(d *Decision) string { return d.Revision },
		onConv:     func(c *Conversion) string { return c.Revision },
	},
	"client_engine": {
		onDecision: func(d *Decision) string { return d.ClientEngine },
		onConv:     func(c *Conversion) string { return c.ClientEngine },
	},
	"client_version": {
		onDecision: func(d *Decision) string { return d.ClientVersion },
		onConv:     func(c *Conversion) string { return c.ClientVersion },
	},
	"campaign_id": {
		onDecision: func(d *Decision) string { return d.CampaignID },
	},
	"entity_id": {
		onConv: func(c *Conversion) string { return c.EntityID },
	},
	"event_type": {
		onConv: func(c *Conversion) string { return c.EventType },
	},
}

func parseSubjectKey(name string) (subjectKey, error) {
	if k, ok := subjectFields[name]; ok {
		k.name = name
		return k, nil
	}
	if attr, ok := strings.CutPrefix(name, attributePrefix); ok && attr != "" {
		return subjectKey{name: name, attribute: attr}, nil
	}
	return subjectKey{}, invalid(ErrMissingField, "subject_key", name)
}

func (k subjectKey) decision(d *Decision) (string, bool) {
	var v string
	switch {
	case k.attribute != "":
		v, _ = attributeValue(d.Attributes, k.attribute)
	case k.onDecision != nil:
		v = k.onDecision(d)
	}
	return v, v != ""
}

func (k subjectKey) conversion(c *Conversion) (string, bool) {
	var v string
	switch {
	case k.attribute != "":
		v, _ = attributeValue(c.Attributes, k.attribute)
	case k.onConv != nil:
		v = k.onConv(c)
	}
	return v, v != ""
}
