package tracker

// Capture helpers mirror the auto-track property sets of the browser SDK.
// Go hosts have no DOM to listen on, so the host calls these explicitly with
// whatever UI context it has; the navigation observer replaces the browser
// trick of wrapping history.pushState.

// ClickInfo describes one interaction for TrackClick.
type ClickInfo struct {
	Tag       string
	ID        string
	ClassName string
	Text      string
	Selector  string
	X         int
	Y         int
	// Href and LinkText are set when the click landed on or inside a link.
	Href     string
	LinkText string
}

const maxClickTextLen = 100

// TrackClick records a "click" event.
func (t *Tracker) TrackClick(info ClickInfo) {
	text := info.Text
	if len(text) > maxClickTextLen {
		text = text[:maxClickTextLen]
	}
	props := map[string]any{
		"tag":       info.Tag,
		"id":        info.ID,
		"className": info.ClassName,
		"text":      text,
		"selector":  info.Selector,
		"x":         info.X,
		"y":         info.Y,
	}
	if info.Href != "" {
		props["href"] = info.Href
		props["link_text"] = info.LinkText
	}
	t.Track("click", props)
}

// PageInfo describes the page for TrackPageView.
type PageInfo struct {
	Title  string
	Path   string
	Search string
	Hash   string
	// URL and Referrer, when set, update the tracker's page context before
	// the event is stamped.
	URL      string
	Referrer string
}

// TrackPageView records a "pageview" event and updates the page context used
// to stamp subsequent events.
func (t *Tracker) TrackPageView(info PageInfo) {
	if info.URL != "" {
		t.SetPage(info.URL, info.Referrer)
	}
	t.Track("pageview", map[string]any{
		"title":  info.Title,
		"path":   info.Path,
		"search": info.Search,
		"hash":   info.Hash,
	})
}

// ErrorInfo describes a runtime error for TrackError.
type ErrorInfo struct {
	// Type distinguishes error classes, e.g. "unhandledrejection".
	// Empty means a plain runtime error.
	Type     string
	Message  string
	Filename string
	Line     int
	Col      int
	Stack    string
}

// TrackError records an "error" event. The collector fans these out to the
// alert dispatcher.
func (t *Tracker) TrackError(info ErrorInfo) {
	props := map[string]any{
		"message":  info.Message,
		"filename": info.Filename,
		"lineno":   info.Line,
		"colno":    info.Col,
		"stack":    info.Stack,
	}
	if info.Type != "" {
		props["type"] = info.Type
	}
	t.Track("error", props)
}

// ObserveNavigation returns a callback for the host's routing layer to invoke
// on every route change; each invocation tracks a pageview. This replaces the
// browser SDK's history.pushState wrapping with explicit registration.
func (t *Tracker) ObserveNavigation() func(PageInfo) {
	return func(info PageInfo) {
		t.TrackPageView(info)
	}
}
