package uiautomator2

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/autosdk/pkg/core"
)

// DefaultLongClickDuration is the press time of LongClick.
const DefaultLongClickDuration = 1000 * time.Millisecond

// Element represents a UI element on the device.
type Element struct {
	id     string
	client *Client
}

// ID returns the element ID.
func (e *Element) ID() string {
	return e.id
}

// elementID reads an element reference, legacy or W3C keyed.
func elementID(v gjson.Result) string {
	if id := v.Get("ELEMENT").String(); id != "" {
		return id
	}
	return v.Get(w3cElementKey).String()
}

// FindElement finds a single element.
func (c *Client) FindElement(strategy, selector string) (*Element, error) {
	return c.FindElementWithContext(strategy, selector, "")
}

// FindElementWithContext finds an element within a parent element.
func (c *Client) FindElementWithContext(strategy, selector, contextID string) (*Element, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	req := FindElementRequest{
		Strategy: strategy,
		Selector: selector,
		Context:  contextID,
	}

	data, err := c.request("POST", c.sessionPath("/element"), req)
	if err != nil {
		return nil, err
	}

	id := elementID(gjson.GetBytes(data, "value"))
	if id == "" {
		return nil, fmt.Errorf("element not found: %s=%s", strategy, selector)
	}

	return &Element{id: id, client: c}, nil
}

// FindElements finds multiple elements.
func (c *Client) FindElements(strategy, selector string) ([]*Element, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	req := FindElementRequest{
		Strategy: strategy,
		Selector: selector,
	}

	data, err := c.request("POST", c.sessionPath("/elements"), req)
	if err != nil {
		return nil, err
	}

	value := gjson.GetBytes(data, "value")
	if !value.IsArray() {
		return nil, core.ErrInvalidResponse.WithMessage("elements response is not an array")
	}

	var elements []*Element
	for _, v := range value.Array() {
		if id := elementID(v); id != "" {
			elements = append(elements, &Element{id: id, client: c})
		}
	}
	return elements, nil
}

// Click taps the element.
func (e *Element) Click() error {
	return e.client.ClickElement(e.id)
}

// LongClick presses the element for the given duration.
func (e *Element) LongClick(duration time.Duration) error {
	return e.client.LongClickElement(e.id, duration)
}

// ClickElement taps the element with the given ID.
func (c *Client) ClickElement(elementID string) error {
	_, err := c.request("POST", c.sessionPath("/element/"+elementID+"/click"), nil)
	return err
}

// LongClickElement presses the element with the given ID.
func (c *Client) LongClickElement(elementID string, duration time.Duration) error {
	req := LongClickRequest{
		Origin:   &ElementModel{ELEMENT: elementID},
		Duration: int(duration.Milliseconds()),
	}
	_, err := c.request("POST", c.sessionPath("/appium/gestures/long_click"), req)
	return err
}

// Text returns the element's text content.
func (e *Element) Text() (string, error) {
	data, err := e.client.request("GET", e.client.sessionPath("/element/"+e.id+"/text"), nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(data, "value").String(), nil
}

// Attribute returns an element attribute.
func (e *Element) Attribute(name string) (string, error) {
	data, err := e.client.request("GET", e.client.sessionPath("/element/"+e.id+"/attribute/"+name), nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(data, "value").String(), nil
}

// Rect returns the element's bounds.
func (e *Element) Rect() (ElementRect, error) {
	data, err := e.client.request("GET", e.client.sessionPath("/element/"+e.id+"/rect"), nil)
	if err != nil {
		return ElementRect{}, err
	}

	var resp struct {
		Value ElementRect `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return ElementRect{}, core.ErrInvalidResponse.WithCause(err)
	}

	return resp.Value, nil
}
