package sdk

import (
	"github.com/manivault/mvcore/internal/actions"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/mverr"
)

// DataService is the part of the data manager plugins may use
type DataService interface {
	RegisterDataType(name string) error
	DataTypes() []string

	AddRawData(raw *RawData) error
	RawData(name string) (*RawData, error)
	RemoveRawData(name string) error
	UniqueRawDataName(name string) string

	CreateDataset(rawDataName, guiName string, parent *Dataset) (*Dataset, error)
	CreateDerivedDataset(guiName string, source, parent *Dataset) (*Dataset, error)
	CreateSubset(source *Dataset, guiName string, indices []int) (*Dataset, error)
	Dataset(id string) (*Dataset, error)
	Datasets(dataTypes ...string) []*Dataset
}

// ActionService is the part of the actions manager plugins may use
type ActionService interface {
	AddAction(a WidgetAction) error
	RemoveAction(a WidgetAction) error
	Action(id string) (WidgetAction, error)

	Publish(a WidgetAction, name string) (WidgetAction, error)
	PublicAction(name string) (WidgetAction, error)
	PublicActions() []WidgetAction
	ConnectPrivateActionToPublicAction(private, public WidgetAction, recursive bool) error
	DisconnectPrivateActionFromPublicAction(private WidgetAction, recursive bool) error
	IsActionConnected(a WidgetAction) bool
}

var (
	_ DataService   = (*data.Manager)(nil)
	_ ActionService = (*actions.Manager)(nil)
)

// Parameter controls plugins build their settings from
type (
	ToggleAction   = actions.ToggleAction
	IntegralAction = actions.IntegralAction
	DecimalAction  = actions.DecimalAction
	StringAction   = actions.StringAction
	OptionAction   = actions.OptionAction
	GroupAction    = actions.GroupAction
)

var (
	NewToggleAction   = actions.NewToggleAction
	NewIntegralAction = actions.NewIntegralAction
	NewDecimalAction  = actions.NewDecimalAction
	NewStringAction   = actions.NewStringAction
	NewOptionAction   = actions.NewOptionAction
	NewGroupAction    = actions.NewGroupAction
)

// ErrorCode classifies errors returned to the core
type ErrorCode = mverr.Code

const (
	CodeInvalidArgument = mverr.CodeInvalidArgument
	CodeNotFound        = mverr.CodeNotFound
	CodeAlreadyInState  = mverr.CodeAlreadyInState
	CodeAborted         = mverr.CodeAborted
	CodeInternal        = mverr.CodeInternal
)

// Errorf returns a coded error
func Errorf(code ErrorCode, format string, args ...any) error {
	return mverr.New(code, format, args...)
}

// WrapError returns a coded error wrapping cause
func WrapError(code ErrorCode, cause error, format string, args ...any) error {
	return mverr.Wrap(code, cause, format, args...)
}

// IsError reports whether err carries code
func IsError(err error, code ErrorCode) bool {
	return mverr.Is(err, code)
}
