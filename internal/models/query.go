package models

// EventPage is the GET /api/events response.
type EventPage struct {
	Events   []StoredEvent `json:"events"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// TypeCount is one events-by-type bucket.
type TypeCount struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

// PageCount is one top-pages bucket.
type PageCount struct {
	URL   string `json:"url"`
	Count int64  `json:"count"`
}

// Stats is the GET /api/stats response. When scoped to one app_id, only the
// event-derived numbers are filtered; totalUsers and totalSessions stay
// global (identity rollups are shared across apps).
type Stats struct {
	TotalEvents   int64       `json:"totalEvents"`
	TotalUsers    int64       `json:"totalUsers"`
	TotalSessions int64       `json:"totalSessions"`
	EventsByType  []TypeCount `json:"eventsByType"`
	TopPages      []PageCount `json:"topPages"`
}

// Journey is the GET /api/users/:distinctId/journey response. User is nil
// when the distinct_id has never been seen; sessions and events are returned
// newest first.
type Journey struct {
	User     *User         `json:"user"`
	Sessions []Session     `json:"sessions"`
	Events   []StoredEvent `json:"events"`
}

// AppSummary is one row of the GET /api/apps response.
type AppSummary struct {
	AppID        string `json:"app_id"`
	TotalEvents  int64  `json:"total_events"`
	TotalUsers   int64  `json:"total_users"`
	LastActivity int64  `json:"last_activity"`
}
