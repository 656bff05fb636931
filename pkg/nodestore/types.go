package nodestore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mimetypes that select a node variant.
const (
	FolderMimetype      = "application/vnd.nodestore.folder"
	SmartFolderMimetype = "application/vnd.nodestore.smartfolder"
	MetaNodeMimetype    = "application/vnd.nodestore.metanode"
)

// RootFolderUUID is the sentinel parent of top-level nodes. It is never stored.
const RootFolderUUID = "--root--"

// AnonymousOwner is stamped on nodes created without a principal.
const AnonymousOwner = "anonymous"

// TimeLayout renders timestamps in UTC with a fixed width so that they
// compare lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime formats t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Permission is a capability granted by an ACL entry.
type Permission string

const (
	PermissionRead   Permission = "Read"
	PermissionWrite  Permission = "Write"
	PermissionExport Permission = "Export"
)

// Permissions is a node ACL.
type Permissions struct {
	Anonymous     []Permission            `json:"anonymous" yaml:"anonymous"`
	Group         []Permission            `json:"group" yaml:"group"`
	Authenticated []Permission            `json:"authenticated" yaml:"authenticated"`
	Advanced      map[string][]Permission `json:"advanced" yaml:"advanced"`
}

// Normalize replaces nil members with empty ones so an ACL is never null.
func (p Permissions) Normalize() Permissions {
	if p.Anonymous == nil {
		p.Anonymous = []Permission{}
	}
	if p.Group == nil {
		p.Group = []Permission{}
	}
	if p.Authenticated == nil {
		p.Authenticated = []Permission{}
	}
	if p.Advanced == nil {
		p.Advanced = map[string][]Permission{}
	}
	return p
}

func (p Permissions) clone() Permissions {
	out := Permissions{
		Anonymous:     append([]Permission{}, p.Anonymous...),
		Group:         append([]Permission{}, p.Group...),
		Authenticated: append([]Permission{}, p.Authenticated...),
		Advanced:      make(map[string][]Permission, len(p.Advanced)),
	}
	for g, perms := range p.Advanced {
		out.Advanced[g] = append([]Permission{}, perms...)
	}
	return out
}

// Properties maps "aspectId:propName" keys to values.
type Properties map[string]Value

// AggregationFormula names a smart folder aggregation.
type AggregationFormula string

const (
	FormulaSum   AggregationFormula = "sum"
	FormulaAvg   AggregationFormula = "avg"
	FormulaCount AggregationFormula = "count"
	FormulaMax   AggregationFormula = "max"
	FormulaMin   AggregationFormula = "min"
	FormulaMed   AggregationFormula = "med"
)

// Aggregation summarizes a field over a smart folder's records.
type Aggregation struct {
	Title     string             `json:"title" yaml:"title"`
	FieldName string             `json:"fieldName" yaml:"fieldName"`
	Formula   AggregationFormula `json:"formula" yaml:"formula"`
}

// Node is the content/metadata entity. The mimetype selects the variant:
// folders use Filters as a child-admission filter and carry OnCreate/OnUpdate
// triggers, smart folders use Filters as their stored query plus
// Aggregations, and file-like nodes carry Versions.
type Node struct {
	UUID         string      `json:"uuid" yaml:"uuid"`
	FID          string      `json:"fid" yaml:"fid"`
	Title        string      `json:"title" yaml:"title"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Mimetype     string      `json:"mimetype" yaml:"mimetype"`
	Size         int64       `json:"size" yaml:"size"`
	Owner        string      `json:"owner" yaml:"owner"`
	Group        string      `json:"group" yaml:"group"`
	CreatedTime  string      `json:"createdTime" yaml:"createdTime"`
	ModifiedTime string      `json:"modifiedTime" yaml:"modifiedTime"`
	Parent       string      `json:"parent" yaml:"parent"`
	Aspects      []string    `json:"aspects" yaml:"aspects"`
	Tags         []string    `json:"tags" yaml:"tags"`
	Properties   Properties  `json:"properties" yaml:"properties"`
	Permissions  Permissions `json:"permissions" yaml:"permissions"`
	Trashed      bool        `json:"trashed" yaml:"trashed"`
	Starred      bool        `json:"starred" yaml:"starred"`

	Filters      Filters       `json:"filters,omitempty" yaml:"filters,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty" yaml:"aggregations,omitempty"`
	OnCreate     []string      `json:"onCreate,omitempty" yaml:"onCreate,omitempty"`
	OnUpdate     []string      `json:"onUpdate,omitempty" yaml:"onUpdate,omitempty"`
	Versions     []string      `json:"versions,omitempty" yaml:"versions,omitempty"`
}

func (n *Node) IsFolder() bool      { return n.Mimetype == FolderMimetype }
func (n *Node) IsSmartFolder() bool { return n.Mimetype == SmartFolderMimetype }
func (n *Node) IsMetaNode() bool    { return n.Mimetype == MetaNodeMimetype }

// IsFileLike reports whether the node owns a blob in the BlobStore.
func (n *Node) IsFileLike() bool {
	return IsFileMimetype(n.Mimetype)
}

// IsFileMimetype reports whether nodes of mimetype own a blob.
func IsFileMimetype(mimetype string) bool {
	switch mimetype {
	case FolderMimetype, SmartFolderMimetype, MetaNodeMimetype:
		return false
	}
	return true
}

// Normalize fills nil collections so that persisted nodes round-trip
// identically across backends.
func (n *Node) Normalize() {
	if n.Aspects == nil {
		n.Aspects = []string{}
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	n.Permissions = n.Permissions.Normalize()
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Aspects = append([]string{}, n.Aspects...)
	c.Tags = append([]string{}, n.Tags...)
	c.Properties = make(Properties, len(n.Properties))
	for k, v := range n.Properties {
		c.Properties[k] = v.clone()
	}
	c.Permissions = n.Permissions.clone()
	c.Filters = n.Filters.clone()
	if n.Aggregations != nil {
		c.Aggregations = append([]Aggregation{}, n.Aggregations...)
	}
	if n.OnCreate != nil {
		c.OnCreate = append([]string{}, n.OnCreate...)
	}
	if n.OnUpdate != nil {
		c.OnUpdate = append([]string{}, n.OnUpdate...)
	}
	if n.Versions != nil {
		c.Versions = append([]string{}, n.Versions...)
	}
	return &c
}

// Field resolves a filter field: declared attributes first, then
// Properties. The boolean is false when the field does not resolve.
func (n *Node) Field(name string) (Value, bool) {
	switch name {
	case "uuid":
		return String(n.UUID), true
	case "fid":
		return String(n.FID), true
	case "title":
		return String(n.Title), true
	case "description":
		if n.Description == "" {
			return Null(), false
		}
		return String(n.Description), true
	case "mimetype":
		return String(n.Mimetype), true
	case "size":
		return Number(float64(n.Size)), true
	case "owner":
		return String(n.Owner), true
	case "group":
		return String(n.Group), true
	case "createdTime":
		return String(n.CreatedTime), true
	case "modifiedTime":
		return String(n.ModifiedTime), true
	case "parent":
		return String(n.Parent), true
	case "aspects":
		return Strings(n.Aspects...), true
	case "tags":
		return Strings(n.Tags...), true
	case "trashed":
		return Bool(n.Trashed), true
	case "starred":
		return Bool(n.Starred), true
	}
	v, ok := n.Properties[name]
	if !ok || v.IsNull() {
		return Null(), false
	}
	return v, true
}

// PropertyType is the declared type of an aspect property.
type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeDate    PropertyType = "date"
	PropertyTypeUUID    PropertyType = "uuid"
	PropertyTypeArray   PropertyType = "array"
	PropertyTypeObject  PropertyType = "object"
)

// ParsePropertyType splits a declared type into its type and array element
// type. Both "array" and "array<T>" are accepted for arrays.
func ParsePropertyType(s string) (PropertyType, PropertyType, error) {
	s = strings.TrimSpace(s)
	if inner, ok := strings.CutPrefix(s, "array<"); ok && strings.HasSuffix(inner, ">") {
		elem := PropertyType(strings.TrimSpace(strings.TrimSuffix(inner, ">")))
		if !elem.scalar() {
			return "", "", &BadRequestError{Reason: fmt.Sprintf("unsupported array element type %q", elem)}
		}
		return PropertyTypeArray, elem, nil
	}
	t := PropertyType(s)
	if t != PropertyTypeArray && !t.scalar() {
		return "", "", &BadRequestError{Reason: fmt.Sprintf("unsupported property type %q", s)}
	}
	return t, "", nil
}

func (t PropertyType) scalar() bool {
	switch t {
	case PropertyTypeString, PropertyTypeNumber, PropertyTypeBoolean,
		PropertyTypeDate, PropertyTypeUUID, PropertyTypeObject:
		return true
	}
	return false
}

// AspectProperty declares one typed custom property.
type AspectProperty struct {
	Name              string       `json:"name" yaml:"name"`
	Title             string       `json:"title" yaml:"title"`
	Type              PropertyType `json:"type" yaml:"type"`
	ArrayType         PropertyType `json:"arrayType,omitempty" yaml:"arrayType,omitempty"`
	Required          bool         `json:"required,omitempty" yaml:"required,omitempty"`
	ValidationRegex   string       `json:"validationRegex,omitempty" yaml:"validationRegex,omitempty"`
	ValidationList    []string     `json:"validationList,omitempty" yaml:"validationList,omitempty"`
	ValidationFilters Filters      `json:"validationFilters,omitempty" yaml:"validationFilters,omitempty"`
}

// Aspect is a reusable schema attachable to nodes.
type Aspect struct {
	UUID        string           `json:"uuid" yaml:"uuid"`
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  []AspectProperty `json:"properties" yaml:"properties"`
}

// PropertyKey returns the Properties key for prop on aspect.
func PropertyKey(aspectUUID, prop string) string {
	return aspectUUID + ":" + prop
}

// NodeFilterResult is one page of a filtered listing.
type NodeFilterResult struct {
	Nodes     []*Node `json:"nodes"`
	PageSize  int     `json:"pageSize"`
	PageToken int     `json:"pageToken"`
	PageCount int     `json:"pageCount"`
}

// Principal identifies the caller on whose behalf the service acts.
type Principal struct {
	Email  string
	Groups []string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
