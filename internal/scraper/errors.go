package scraper

import "fmt"

// InvalidParameterError reports an empty required argument. It is never
// worth retrying.
type InvalidParameterError struct {
	Param string
}

func (e *InvalidParameterError) Error() string {
	return "Invalid parameter: " + e.Param
}

// PageLoadError reports a page that answered with a non-200 status.
type PageLoadError struct {
	Status int
	URL    string
}

func (e *PageLoadError) Error() string {
	return fmt.Sprintf("Failed to load page: %s with status %d", e.URL, e.Status)
}

// SessionError reports that no browser session could be acquired. It is the
// only condition that aborts a whole crawl.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
