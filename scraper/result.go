package scraper

// Result is a page fetched by FetchWithRetry.
type Result struct {
	// HTML is the rendered page source.
	HTML string

	// Title is the text of the first <title> element.
	Title string

	// Attempts is the number of attempts made, including the successful one.
	Attempts int

	// Proxy is the proxy used for the successful attempt, password masked.
	Proxy string

	// StatusCode is the navigation status, 0 when the driver cannot tell.
	StatusCode int
}
