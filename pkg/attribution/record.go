package attribution

import "time"

// Attribute is a custom attribute attached to an enriched event.
type Attribute struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// Decision is one exposure event: a subject was shown a variation of an experiment.
// Decisions are produced upstream and never modified by the engine.
type Decision struct {
	VisitorID    string      `json:"visitor_id"`
	SessionID    string      `json:"session_id,omitempty"`
	ExperimentID string      `json:"experiment_id"`
	VariationID  string      `json:"variation_id"`
	Timestamp    time.Time   `json:"timestamp"`
	IsHoldback   bool        `json:"is_holdback"`
	Attributes   []Attribute `json:"attributes,omitempty"`

	// Pass-through metadata. Carried but ignored by attribution.
	AccountID     string `json:"account_id,omitempty"`
	CampaignID    string `json:"campaign_id,omitempty"`
	UserIP        string `json:"user_ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	Referer       string `json:"referer,omitempty"`
	Revision      string `json:"revision,omitempty"`
	ClientEngine  string `json:"client_engine,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

// ExperimentRef names an experiment and variation a conversion was
// attributed to by the client at send time.
type ExperimentRef struct {
	ExperimentID string `json:"experiment_id"`
	VariationID  string `json:"variation_id"`
	IsHoldback   bool   `json:"is_holdback"`
}

// Conversion is a business event that may be credited to running experiments.
//
// AttributedExperiments is nil when the field was absent on the source
// record, which is distinct from an empty list.
type Conversion struct {
	VisitorID             string          `json:"visitor_id"`
	SessionID             string          `json:"session_id,omitempty"`
	EventName             string          `json:"event_name"`
	Timestamp             time.Time       `json:"timestamp"`
	Revenue               *int64          `json:"revenue,omitempty"`
	AttributedExperiments []ExperimentRef `json:"attributed_experiments"`
	Attributes            []Attribute     `json:"attributes,omitempty"`

	AccountID     string            `json:"account_id,omitempty"`
	EntityID      string            `json:"entity_id,omitempty"`
	EventType     string            `json:"event_type,omitempty"`
	Value         *float64          `json:"value,omitempty"`
	Quantity      *int64            `json:"quantity,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	UserIP        string            `json:"user_ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Revision      string            `json:"revision,omitempty"`
	ClientEngine  string            `json:"client_engine,omitempty"`
	ClientVersion string            `json:"client_version,omitempty"`
}

// SubjectAssignment is the first qualifying exposure of a subject to an experiment.
type SubjectAssignment struct {
	ExperimentID  string    `json:"experiment_id"`
	SubjectID     string    `json:"subject_id"`
	VariationID   string    `json:"variation_id"`
	FirstExposure time.Time `json:"timestamp"`
}

// AttributionRecord is one conversion credited to one experiment variation.
type AttributionRecord struct {
	ExperimentID string    `json:"experiment_id"`
	VariationID  string    `json:"variation_id"`
	EventName    string    `json:"event_name"`
	SubjectID    string    `json:"subject_id"`
	Revenue      *int64    `json:"revenue,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AggregateRow holds one metric value for one group.
// Fields that are not part of the group-by are left empty.
type AggregateRow struct {
	ExperimentID string `json:"experiment_id,omitempty"`
	VariationID  string `json:"variation_id,omitempty"`
	EventName    string `json:"event_name,omitempty"`
	Metric       Metric `json:"metric"`
	Value        int64  `json:"value"`
}

// attributeValue returns the value of the named custom attribute.
func attributeValue(attrs []Attribute, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// attributeMap flattens attributes into name -> value.
func attributeMap(attrs []Attribute) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Name] = a.Value
	}
	return m
}
