package demo

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// DelayedTimeInput is the input of getDelayedTime
type DelayedTimeInput struct {
	Delay *float64 `json:"delay"` // ms
}

// ApplyDefaults implements remote.Defaulter
func (in *DelayedTimeInput) ApplyDefaults() {
	if in.Delay == nil {
		d := float64(DefaultDelayedTime)
		in.Delay = &d
	}
}

// DelayedTime is the result of getDelayedTime
type DelayedTime struct {
	Timestamp string  `json:"timestamp"`
	UserID    string  `json:"userId"`
	Delay     float64 `json:"delay"`
}

// CounterInput is the input of incrementCounter
type CounterInput struct {
	CurrentValue *float64 `json:"currentValue" validate:"required"`
}

// CounterResult is the result of incrementCounter
type CounterResult struct {
	NewValue  float64 `json:"newValue"`
	Timestamp string  `json:"timestamp"`
}

// FormNumber is a number submitted as a form string. The empty string is 0.
type FormNumber float64

// UnmarshalJSON accepts a JSON number or a numeric string
func (n *FormNumber) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*n = FormNumber(num)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number or string")
	}
	return n.parse(s)
}

func (n *FormNumber) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*n = 0
		return nil
	}
	num, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return fmt.Errorf("expected number, received %q", s)
	}
	*n = FormNumber(num)
	return nil
}

// TestFormInput is the input of testForm
type TestFormInput struct {
	Message string     `json:"message" validate:"min=1"`
	Count   FormNumber `json:"count"`
}

// DecodeForm implements remote.FormDecoder
func (in *TestFormInput) DecodeForm(values url.Values) error {
	in.Message = values.Get("message")
	if err := in.Count.parse(values.Get("count")); err != nil {
		return fmt.Errorf("count: %w", err)
	}
	return nil
}

// TestFormData is the echoed form content
type TestFormData struct {
	Message     string  `json:"message"`
	Count       float64 `json:"count"`
	Timestamp   string  `json:"timestamp"`
	ProcessedBy string  `json:"processedBy"`
}

// TestFormResult is the result of testForm
type TestFormResult struct {
	Success bool         `json:"success"`
	Data    TestFormData `json:"data"`
}

// User is a result of getUserById
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Post is an element of a getPostsByUserId result
type Post struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	UserID string `json:"userId"`
}

// InitialData is the first step of the waterfall
type InitialData struct {
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
}

// OrganizationInput is the input of getOrganizationDetails
type OrganizationInput struct {
	OrgID string `json:"orgId" validate:"required"`
}

// Organization is the second step of the waterfall
type Organization struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PrimaryProjectID string `json:"primaryProjectId"`
}

// ProjectInput is the input of getProjectInfo
type ProjectInput struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// Project is the third step of the waterfall
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LeadUserID string `json:"leadUserId"`
}

// UserProfileInput is the input of getUserProfile
type UserProfileInput struct {
	UserID string `json:"userId" validate:"required"`
}

// UserProfile is the fourth step of the waterfall
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"teamId"`
}

// TeamInput is the input of getTeamMembers
type TeamInput struct {
	TeamID string `json:"teamId" validate:"required"`
}

// TeamMember is an element of the last waterfall step
type TeamMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}
