package model

import "strings"

// Outlet is one independently-authenticated account whose status is checked.
// It is the unit of work the scheduler dispatches and is immutable once loaded.
type Outlet struct {
	ID       string `json:"outlet_id" yaml:"outlet_name"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
}

// Selection reports which sub-entity row the outlet id marker asks for:
// 0 for none, 1 for "*", 2 for "**".
func (o Outlet) Selection() int {
	switch {
	case strings.Contains(o.ID, "**"):
		return 2
	case strings.Contains(o.ID, "*"):
		return 1
	default:
		return 0
	}
}
