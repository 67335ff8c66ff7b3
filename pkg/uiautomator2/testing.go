package uiautomator2

// NewTestClient creates a client for a test server with a session already set.
// This should only be used in tests.
func NewTestClient(baseURL, sessionID string) *Client {
	c := NewClientURL(baseURL)
	c.sessionID = sessionID
	return c
}

// SetSession sets the session ID for testing purposes.
// This should only be used in tests.
func (c *Client) SetSession(sessionID string) {
	c.sessionID = sessionID
}

// NewTestElement creates an Element for testing purposes.
// This should only be used in tests.
func NewTestElement(id string, client *Client) *Element {
	return &Element{
		id:     id,
		client: client,
	}
}
