package uiautomator2

// Capabilities for session creation.
type Capabilities struct {
	PlatformName string `json:"platformName,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// SessionRequest for creating a session.
type SessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

// ElementModel represents an element reference.
type ElementModel struct {
	ELEMENT string `json:"ELEMENT"`
}

// FindElementRequest for finding elements.
type FindElementRequest struct {
	Strategy string `json:"strategy"`
	Selector string `json:"selector"`
	Context  string `json:"context,omitempty"`
}

// ElementRect represents element bounds from /element/{id}/rect API.
// This uses x/y/width/height format returned by WebDriver element rect endpoint.
type ElementRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LongClickRequest for long press gestures.
type LongClickRequest struct {
	Origin   *ElementModel `json:"origin,omitempty"`
	Duration int           `json:"duration,omitempty"` // milliseconds
}

// DeviceInfo from device info endpoint.
type DeviceInfo struct {
	AndroidID       string `json:"androidId"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	Brand           string `json:"brand"`
	APIVersion      string `json:"apiVersion"`
	PlatformVersion string `json:"platformVersion"`
	RealDisplaySize string `json:"realDisplaySize"`
	DisplayDensity  int    `json:"displayDensity"`
}

// Locator strategies.
const (
	StrategyID              = "id"
	StrategyAccessibilityID = "accessibility id"
	StrategyXPath           = "xpath"
	StrategyClassName       = "class name"
	StrategyUIAutomator     = "-android uiautomator"
)

// w3cElementKey is the element reference key of W3C WebDriver responses.
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"
