package nodestore

// Request DTOs

// CreateNodeRequest contains parameters for creating a node. UUID and FID
// are generated when empty; Permissions and Group are inherited from the
// parent folder when unset.
type CreateNodeRequest struct {
	UUID        string
	FID         string
	Title       string
	Description string
	Mimetype    string
	Parent      string
	Group       string
	Aspects     []string
	Tags        []string
	Properties  Properties
	Permissions *Permissions
	Starred     bool

	// Folder admission filter or smart folder query
	Filters Filters

	Aggregations []Aggregation
	OnCreate     []string
	OnUpdate     []string
}

// NodePatch lists the mutable fields of a node. Nil members are left
// untouched. Properties are merged per key and a null value removes the key.
// Identifiers, owner, creation time and mimetype cannot be patched.
type NodePatch struct {
	Title        *string
	Description  *string
	Parent       *string
	Group        *string
	Aspects      *[]string
	Tags         *[]string
	Properties   Properties
	Permissions  *Permissions
	Trashed      *bool
	Starred      *bool
	Filters      *Filters
	Aggregations *[]Aggregation
	OnCreate     *[]string
	OnUpdate     *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p NodePatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Parent == nil && p.Group == nil &&
		p.Aspects == nil && p.Tags == nil && len(p.Properties) == 0 && p.Permissions == nil &&
		p.Trashed == nil && p.Starred == nil && p.Filters == nil && p.Aggregations == nil &&
		p.OnCreate == nil && p.OnUpdate == nil
}
