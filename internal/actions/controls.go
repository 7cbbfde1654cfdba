package actions

import (
	"fmt"
	"math"

	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// Type tags used for serialization
const (
	TypeToggle   = "Toggle"
	TypeIntegral = "Integral"
	TypeDecimal  = "Decimal"
	TypeString   = "String"
	TypeOption   = "Option"
	TypeGroup    = "Group"
)

func typeError(a *Action, v any) error {
	return mverr.New(mverr.CodeInvalidArgument, "action %q: unsupported value %v (%T)", a.title, v, v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Round(n)), true
	case float32:
		return int(math.Round(float64(n))), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ToggleAction holds a boolean
type ToggleAction struct {
	*Action
	checked bool
}

// NewToggleAction creates a toggle owned by parent (which may be nil)
func NewToggleAction(parent WidgetAction, title string, checked bool) *ToggleAction {
	t := &ToggleAction{Action: &Action{}, checked: checked}
	t.init(t, parent, title)
	return t
}

func (t *ToggleAction) TypeName() string { return TypeToggle }
func (t *ToggleAction) Value() any       { return t.checked }
func (t *ToggleAction) Checked() bool    { return t.checked }

func (t *ToggleAction) SetValue(v any) error {
	b, ok := v.(bool)
	if !ok {
		return typeError(t.Action, v)
	}
	if b == t.checked {
		return nil
	}
	t.checked = b
	t.changed()
	return nil
}

func (t *ToggleAction) PublicCopy() WidgetAction {
	return NewToggleAction(nil, t.title, t.checked)
}

func (t *ToggleAction) ToVariantMap() variant.Map {
	m := t.baseVariantMap()
	m["Value"] = t.checked
	return m
}

func (t *ToggleAction) FromVariantMap(m variant.Map) error {
	t.title = variant.String(m, "Title", t.title)
	return t.SetValue(variant.Bool(m, "Value", t.checked))
}

// IntegralAction holds an integer clamped to [min, max]
type IntegralAction struct {
	*Action
	value, min, max int
}

// NewIntegralAction creates an integral control
func NewIntegralAction(parent WidgetAction, title string, min, max, value int) *IntegralAction {
	if min > max {
		min, max = max, min
	}
	i := &IntegralAction{Action: &Action{}, min: min, max: max}
	i.value = i.clamp(value)
	i.init(i, parent, title)
	return i
}

func (i *IntegralAction) clamp(v int) int {
	if v < i.min {
		return i.min
	}
	if v > i.max {
		return i.max
	}
	return v
}

func (i *IntegralAction) TypeName() string { return TypeIntegral }
func (i *IntegralAction) Value() any       { return i.value }
func (i *IntegralAction) Int() int         { return i.value }

// Range returns the bounds
func (i *IntegralAction) Range() (int, int) { return i.min, i.max }

// SetRange changes the bounds, clamping the current value
func (i *IntegralAction) SetRange(min, max int) {
	if min > max {
		min, max = max, min
	}
	i.min, i.max = min, max
	i.SetValue(i.value)
}

func (i *IntegralAction) SetValue(v any) error {
	n, ok := toInt(v)
	if !ok {
		return typeError(i.Action, v)
	}
	n = i.clamp(n)
	if n == i.value {
		return nil
	}
	i.value = n
	i.changed()
	return nil
}

func (i *IntegralAction) PublicCopy() WidgetAction {
	return NewIntegralAction(nil, i.title, i.min, i.max, i.value)
}

func (i *IntegralAction) ToVariantMap() variant.Map {
	m := i.baseVariantMap()
	m["Value"] = i.value
	m["Minimum"] = i.min
	m["Maximum"] = i.max
	return m
}

func (i *IntegralAction) FromVariantMap(m variant.Map) error {
	i.title = variant.String(m, "Title", i.title)
	i.SetRange(variant.Int(m, "Minimum", i.min), variant.Int(m, "Maximum", i.max))
	return i.SetValue(variant.Int(m, "Value", i.value))
}

// DecimalAction holds a float clamped to [min, max]
type DecimalAction struct {
	*Action
	value, min, max float64
	decimals        int
}

// NewDecimalAction creates a decimal control
func NewDecimalAction(parent WidgetAction, title string, min, max, value float64, decimals int) *DecimalAction {
	if min > max {
		min, max = max, min
	}
	d := &DecimalAction{Action: &Action{}, min: min, max: max, decimals: decimals}
	d.value = d.clamp(value)
	d.init(d, parent, title)
	return d
}

func (d *DecimalAction) clamp(v float64) float64 {
	return math.Max(d.min, math.Min(d.max, v))
}

func (d *DecimalAction) TypeName() string { return TypeDecimal }
func (d *DecimalAction) Value() any       { return d.value }
func (d *DecimalAction) Float() float64   { return d.value }
func (d *DecimalAction) Decimals() int    { return d.decimals }

// Range returns the bounds
func (d *DecimalAction) Range() (float64, float64) { return d.min, d.max }

// SetRange changes the bounds, clamping the current value
func (d *DecimalAction) SetRange(min, max float64) {
	if min > max {
		min, max = max, min
	}
	d.min, d.max = min, max
	d.SetValue(d.value)
}

func (d *DecimalAction) SetValue(v any) error {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return typeError(d.Action, v)
	}
	f = d.clamp(f)
	if f == d.value {
		return nil
	}
	d.value = f
	d.changed()
	return nil
}

func (d *DecimalAction) PublicCopy() WidgetAction {
	return NewDecimalAction(nil, d.title, d.min, d.max, d.value, d.decimals)
}

func (d *DecimalAction) ToVariantMap() variant.Map {
	m := d.baseVariantMap()
	m["Value"] = d.value
	m["Minimum"] = d.min
	m["Maximum"] = d.max
	m["Decimals"] = d.decimals
	return m
}

func (d *DecimalAction) FromVariantMap(m variant.Map) error {
	d.title = variant.String(m, "Title", d.title)
	d.decimals = variant.Int(m, "Decimals", d.decimals)
	d.SetRange(variant.Float(m, "Minimum", d.min), variant.Float(m, "Maximum", d.max))
	return d.SetValue(variant.Float(m, "Value", d.value))
}

// StringAction holds free text
type StringAction struct {
	*Action
	text string
}

// NewStringAction creates a text control
func NewStringAction(parent WidgetAction, title, text string) *StringAction {
	s := &StringAction{Action: &Action{}, text: text}
	s.init(s, parent, title)
	return s
}

func (s *StringAction) TypeName() string { return TypeString }
func (s *StringAction) Value() any       { return s.text }
func (s *StringAction) String() string   { return s.text }

func (s *StringAction) SetValue(v any) error {
	text, ok := v.(string)
	if !ok {
		return typeError(s.Action, v)
	}
	if text == s.text {
		return nil
	}
	s.text = text
	s.changed()
	return nil
}

func (s *StringAction) PublicCopy() WidgetAction {
	return NewStringAction(nil, s.title, s.text)
}

func (s *StringAction) ToVariantMap() variant.Map {
	m := s.baseVariantMap()
	m["Value"] = s.text
	return m
}

func (s *StringAction) FromVariantMap(m variant.Map) error {
	s.title = variant.String(m, "Title", s.title)
	return s.SetValue(variant.String(m, "Value", s.text))
}

// OptionAction selects one entry of a list of options. Its value is the
// current option text, so connected actions match options by name.
type OptionAction struct {
	*Action
	options []string
	index   int
}

// NewOptionAction creates an option control; current may be -1 for none
func NewOptionAction(parent WidgetAction, title string, options []string, current int) *OptionAction {
	o := &OptionAction{Action: &Action{}, options: append([]string(nil), options...), index: -1}
	if current >= 0 && current < len(options) {
		o.index = current
	}
	o.init(o, parent, title)
	return o
}

func (o *OptionAction) TypeName() string { return TypeOption }

func (o *OptionAction) Value() any { return o.CurrentText() }

// CurrentIndex returns the selected index, -1 when nothing is selected
func (o *OptionAction) CurrentIndex() int { return o.index }

// CurrentText returns the selected option, "" when nothing is selected
func (o *OptionAction) CurrentText() string {
	if o.index < 0 {
		return ""
	}
	return o.options[o.index]
}

// Options returns the option list
func (o *OptionAction) Options() []string {
	return append([]string(nil), o.options...)
}

// SetValue accepts an option text or an index
func (o *OptionAction) SetValue(v any) error {
	index := -1
	if text, ok := v.(string); ok {
		if text != "" {
			for i, opt := range o.options {
				if opt == text {
					index = i
					break
				}
			}
			if index < 0 {
				return mverr.New(mverr.CodeInvalidArgument, "action %q has no option %q", o.title, text)
			}
		}
	} else if n, ok := toInt(v); ok {
		if n < -1 || n >= len(o.options) {
			return mverr.New(mverr.CodeInvalidArgument, "action %q: option index %d out of range", o.title, n)
		}
		index = n
	} else {
		return typeError(o.Action, v)
	}

	if index == o.index {
		return nil
	}
	o.index = index
	o.changed()
	return nil
}

func (o *OptionAction) PublicCopy() WidgetAction {
	return NewOptionAction(nil, o.title, o.options, o.index)
}

func (o *OptionAction) ToVariantMap() variant.Map {
	m := o.baseVariantMap()
	m["Options"] = o.Options()
	m["CurrentIndex"] = o.index
	m["Value"] = o.CurrentText()
	return m
}

func (o *OptionAction) FromVariantMap(m variant.Map) error {
	o.title = variant.String(m, "Title", o.title)
	if _, ok := m["Options"]; ok {
		o.options = variant.Strings(m, "Options")
		if o.index >= len(o.options) {
			o.index = -1
		}
	}
	if text := variant.String(m, "Value", ""); text != "" {
		return o.SetValue(text)
	}
	return o.SetValue(variant.Int(m, "CurrentIndex", -1))
}

// GroupAction only owns children. Connecting a group connects its children
// pairwise.
type GroupAction struct {
	*Action
}

// NewGroupAction creates an empty group
func NewGroupAction(parent WidgetAction, title string) *GroupAction {
	g := &GroupAction{Action: &Action{}}
	g.init(g, parent, title)
	return g
}

func (g *GroupAction) TypeName() string { return TypeGroup }

// Value maps child titles to child values
func (g *GroupAction) Value() any {
	values := make(variant.Map, len(g.children))
	for _, c := range g.children {
		values[c.Base().title] = c.Value()
	}
	return values
}

// SetValue assigns child values by title; unknown titles are rejected
func (g *GroupAction) SetValue(v any) error {
	values, ok := v.(map[string]interface{})
	if !ok {
		return typeError(g.Action, v)
	}
	for title, value := range values {
		child := g.Child(title)
		if child == nil {
			return mverr.New(mverr.CodeNotFound, "group %q has no child %q", g.title, title)
		}
		if err := child.SetValue(value); err != nil {
			return fmt.Errorf("failed to set %q: %w", title, err)
		}
	}
	return nil
}

func (g *GroupAction) PublicCopy() WidgetAction {
	cp := NewGroupAction(nil, g.title)
	for _, c := range g.children {
		cp.AddChild(c.PublicCopy())
	}
	return cp
}

func (g *GroupAction) ToVariantMap() variant.Map {
	m := g.baseVariantMap()
	children := make([]variant.Map, 0, len(g.children))
	for _, c := range g.children {
		children = append(children, c.ToVariantMap())
	}
	m["Children"] = children
	return m
}

// FromVariantMap only restores the title; children are rebuilt by the
// manager, which knows the registered action types.
func (g *GroupAction) FromVariantMap(m variant.Map) error {
	g.title = variant.String(m, "Title", g.title)
	return nil
}
