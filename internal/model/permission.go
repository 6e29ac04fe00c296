package model

import "fmt"

// PermissionType is an access level, ordered by privilege. The stored codes
// read as read/write/delete flags, 'N' meaning denied.
type PermissionType int

const (
	PermissionNoAccess PermissionType = iota
	PermissionViewOnly
	PermissionEditView
	PermissionEditViewDelete
)

const (
	codeNoAccess       = "NNN"
	codeViewOnly       = "RNN"
	codeEditView       = "RWN"
	codeEditViewDelete = "RWD"
)

func ParsePermissionType(code string) (PermissionType, error) {
	switch code {
	case codeNoAccess:
		return PermissionNoAccess, nil
	case codeViewOnly:
		return PermissionViewOnly, nil
	case codeEditView:
		return PermissionEditView, nil
	case codeEditViewDelete:
		return PermissionEditViewDelete, nil
	}
	return PermissionNoAccess, fmt.Errorf("unknown permission type %q", code)
}

// Code returns the three-letter storage code.
func (p PermissionType) Code() string {
	switch p {
	case PermissionViewOnly:
		return codeViewOnly
	case PermissionEditView:
		return codeEditView
	case PermissionEditViewDelete:
		return codeEditViewDelete
	default:
		return codeNoAccess
	}
}

func (p PermissionType) IsValid() bool {
	return p >= PermissionNoAccess && p <= PermissionEditViewDelete
}

// Allows reports whether the level is sufficient for the action.
func (p PermissionType) Allows(action Action) bool {
	return p >= action.Required()
}

func (p PermissionType) String() string {
	switch p {
	case PermissionViewOnly:
		return "VIEW_ONLY"
	case PermissionEditView:
		return "EDIT_VIEW"
	case PermissionEditViewDelete:
		return "EDIT_VIEW_DELETE"
	default:
		return "NO_ACCESS"
	}
}

func (p PermissionType) MarshalText() ([]byte, error) {
	return []byte(p.Code()), nil
}

func (p *PermissionType) UnmarshalText(text []byte) error {
	parsed, err := ParsePermissionType(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MaxPermission returns the most privileged of the given levels, NoAccess when empty.
func MaxPermission(levels ...PermissionType) PermissionType {
	highest := PermissionNoAccess
	for _, level := range levels {
		if level > highest {
			highest = level
		}
	}
	return highest
}

type Action string

const (
	ActionView   Action = "view"
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Required returns the lowest level that grants the action.
func (a Action) Required() PermissionType {
	switch a {
	case ActionView:
		return PermissionViewOnly
	case ActionAdd, ActionEdit:
		return PermissionEditView
	case ActionDelete:
		return PermissionEditViewDelete
	}
	// Unknown actions are never granted by a level.
	return PermissionEditViewDelete + 1
}
