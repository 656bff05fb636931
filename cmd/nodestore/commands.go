package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/config"
	"github.com/tendant/nodestore/pkg/nodestore/storage/encrypted"
)

// nodeFlags are the attributes shared by create, mkdir and upload.
type nodeFlags struct {
	uuid         string
	fid          string
	title        string
	description  string
	mimetype     string
	parent       string
	group        string
	aspects      []string
	tags         []string
	properties   []string
	starred      bool
	filters      string
	aggregations string
	onCreate     []string
	onUpdate     []string
}

func (f *nodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.uuid, "uuid", "", "node UUID (generated when empty)")
	cmd.Flags().StringVar(&f.fid, "fid", "", "friendly id (derived from the title when empty)")
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "node title")
	cmd.Flags().StringVar(&f.description, "description", "", "node description")
	cmd.Flags().StringVarP(&f.parent, "parent", "p", nodestore.RootFolderUUID, "parent folder UUID")
	cmd.Flags().StringVar(&f.group, "group", "", "owning group")
	cmd.Flags().StringSliceVar(&f.aspects, "aspect", nil, "aspect to attach (repeatable)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringArrayVar(&f.properties, "prop", nil, "property as aspect:name=value (repeatable)")
	cmd.Flags().BoolVar(&f.starred, "starred", false, "star the node")
}

func (f *nodeFlags) request() (nodestore.CreateNodeRequest, error) {
	props, err := parseProperties(f.properties)
	if err != nil {
		return nodestore.CreateNodeRequest{}, err
	}
	filters, err := parseFilters(f.filters)
	if err != nil {
		return nodestore.CreateNodeRequest{}, err
	}
	aggs, err := parseAggregations(f.aggregations)
	if err != nil {
		return nodestore.CreateNodeRequest{}, err
	}
	return nodestore.CreateNodeRequest{
		UUID:         f.uuid,
		FID:          f.fid,
		Title:        f.title,
		Description:  f.description,
		Mimetype:     f.mimetype,
		Parent:       f.parent,
		Group:        f.group,
		Aspects:      f.aspects,
		Tags:         f.tags,
		Properties:   props,
		Starred:      f.starred,
		Filters:      filters,
		Aggregations: aggs,
		OnCreate:     f.onCreate,
		OnUpdate:     f.onUpdate,
	}, nil
}

// NewCreateCommand creates the create command
func NewCreateCommand(flags *globalFlags) *cobra.Command {
	nf := &nodeFlags{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a metadata node, smart folder or folder",
		Long: `Create a node without content. Use --mimetype to choose the variant:
smart folders take --filter and --aggregations, folders take --filter as
their admission rule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := nf.request()
			if err != nil {
				return err
			}
			return run(cmd, flags, func(a *app) error {
				n, err := a.rt.Service.Create(a.ctx, req)
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}

	nf.register(cmd)
	cmd.Flags().StringVarP(&nf.mimetype, "mimetype", "m", nodestore.MetaNodeMimetype, "node mimetype")
	cmd.Flags().StringVar(&nf.filters, "filter", "", "filter expression as JSON")
	cmd.Flags().StringVar(&nf.aggregations, "aggregations", "", "smart folder aggregations as a JSON array")
	cmd.Flags().StringSliceVar(&nf.onCreate, "on-create", nil, "folder onCreate trigger (repeatable)")
	cmd.Flags().StringSliceVar(&nf.onUpdate, "on-update", nil, "folder onUpdate trigger (repeatable)")

	return cmd
}

// NewMkdirCommand creates the mkdir command
func NewMkdirCommand(flags *globalFlags) *cobra.Command {
	nf := &nodeFlags{mimetype: nodestore.FolderMimetype}

	cmd := &cobra.Command{
		Use:   "mkdir <title>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nf.title = args[0]
			req, err := nf.request()
			if err != nil {
				return err
			}
			return run(cmd, flags, func(a *app) error {
				n, err := a.rt.Service.Create(a.ctx, req)
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}

	nf.register(cmd)
	cmd.Flags().StringVar(&nf.filters, "filter", "", "admission filter for children as JSON")
	cmd.Flags().StringSliceVar(&nf.onCreate, "on-create", nil, "onCreate trigger (repeatable)")
	cmd.Flags().StringSliceVar(&nf.onUpdate, "on-update", nil, "onUpdate trigger (repeatable)")

	return cmd
}

// detectMimetype uses the extension first and sniffs content otherwise.
func detectMimetype(path string, f *os.File) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t, nil
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

// NewUploadCommand creates the upload command
func NewUploadCommand(flags *globalFlags) *cobra.Command {
	nf := &nodeFlags{}
	var replace string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file as a new node, or as new content of --replace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			if nf.title == "" {
				nf.title = filepath.Base(path)
			}
			if nf.mimetype == "" {
				if nf.mimetype, err = detectMimetype(path, f); err != nil {
					return fmt.Errorf("failed to detect mimetype: %w", err)
				}
			}
			req, err := nf.request()
			if err != nil {
				return err
			}

			return run(cmd, flags, func(a *app) error {
				var n *nodestore.Node
				if replace != "" {
					n, err = a.rt.Service.UpdateFile(a.ctx, replace, f)
				} else {
					n, err = a.rt.Service.CreateFile(a.ctx, f, req)
				}
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}

	nf.register(cmd)
	cmd.Flags().StringVarP(&nf.mimetype, "mimetype", "m", "", "content type (detected when empty)")
	cmd.Flags().StringVar(&replace, "replace", "", "UUID of an existing file node whose content is replaced")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand(flags *globalFlags) *cobra.Command {
	var byFID bool

	cmd := &cobra.Command{
		Use:   "get <uuid>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				get := a.rt.Service.Get
				if byFID {
					get = a.rt.Service.GetByFID
				}
				n, err := get(a.ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}

	cmd.Flags().BoolVar(&byFID, "fid", false, "look the node up by friendly id")

	return cmd
}

// NewUpdateCommand creates the update command
func NewUpdateCommand(flags *globalFlags) *cobra.Command {
	var (
		title, description, parent, group string
		tags, aspects, properties         []string
		filters                           string
		starred, trashed                  bool
	)

	cmd := &cobra.Command{
		Use:   "update <uuid>",
		Short: "Change attributes of a node; --parent moves it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch nodestore.NodePatch
			changed := cmd.Flags().Changed
			if changed("title") {
				patch.Title = &title
			}
			if changed("description") {
				patch.Description = &description
			}
			if changed("parent") {
				patch.Parent = &parent
			}
			if changed("group") {
				patch.Group = &group
			}
			if changed("tag") {
				patch.Tags = &tags
			}
			if changed("aspect") {
				patch.Aspects = &aspects
			}
			if changed("starred") {
				patch.Starred = &starred
			}
			if changed("trashed") {
				patch.Trashed = &trashed
			}
			if changed("filter") {
				fs, err := parseFilters(filters)
				if err != nil {
					return err
				}
				patch.Filters = &fs
			}
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}
			patch.Properties = props

			if patch.IsEmpty() {
				return errors.New("nothing to update")
			}
			return run(cmd, flags, func(a *app) error {
				n, err := a.rt.Service.Update(a.ctx, args[0], patch)
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVarP(&parent, "parent", "p", "", "move under this folder")
	cmd.Flags().StringVar(&group, "group", "", "new owning group")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().StringSliceVar(&aspects, "aspect", nil, "replace aspects")
	cmd.Flags().StringArrayVar(&properties, "prop", nil, "set property aspect:name=value (repeatable)")
	cmd.Flags().StringVar(&filters, "filter", "", "replace filters (JSON)")
	cmd.Flags().BoolVar(&starred, "starred", false, "star or unstar")
	cmd.Flags().BoolVar(&trashed, "trashed", false, "move to or restore from trash")

	return cmd
}

// NewListCommand creates the ls command
func NewListCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [folder-uuid]",
		Short: "List the children of a folder (root by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := nodestore.RootFolderUUID
			if len(args) == 1 {
				parent = args[0]
			}
			return run(cmd, flags, func(a *app) error {
				nodes, err := a.rt.Service.List(a.ctx, parent)
				if err != nil {
					return err
				}
				return a.print(nodes)
			})
		},
	}
	return cmd
}

// NewFindCommand creates the find command
func NewFindCommand(flags *globalFlags) *cobra.Command {
	var pageSize, page int

	cmd := &cobra.Command{
		Use:   "find <filters-json>",
		Short: "Query nodes with a filter expression",
		Example: `  nodestore find '["mimetype","==","application/pdf"]'
  nodestore find '[["title","match","*.md"],["size",">",1024]]' --page-size 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(args[0])
			if err != nil {
				return err
			}
			return run(cmd, flags, func(a *app) error {
				res, err := a.rt.Service.Find(a.ctx, filters, pageSize, page)
				if err != nil {
					return err
				}
				return a.print(res)
			})
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 0, "results per page (0 returns everything)")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")

	return cmd
}

// NewEvaluateCommand creates the evaluate command
func NewEvaluateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <smart-folder-uuid>",
		Short: "Run a smart folder query and its aggregations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				res, err := a.rt.Service.Evaluate(a.ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(res)
			})
		},
	}
}

// NewBreadcrumbsCommand creates the breadcrumbs command
func NewBreadcrumbsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "breadcrumbs <uuid>",
		Short: "Show the folder trail from the root to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				trail, err := a.rt.Service.Breadcrumbs(a.ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(trail)
			})
		},
	}
}

// NewDeleteCommand creates the rm command
func NewDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uuid>...",
		Short: "Delete nodes; folders are deleted with their content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				for _, id := range args {
					if err := a.rt.Service.Delete(a.ctx, id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(a.out, "Deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

// NewCopyCommand creates the cp command
func NewCopyCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <uuid> <folder-uuid>",
		Short: "Copy a node into a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				n, err := a.rt.Service.Copy(a.ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}
}

// NewDuplicateCommand creates the dup command
func NewDuplicateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dup <uuid>",
		Short: "Duplicate a node next to the original",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				n, err := a.rt.Service.Duplicate(a.ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(n)
			})
		},
	}
}

// NewExportCommand creates the export command
func NewExportCommand(flags *globalFlags) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <uuid>",
		Short: "Write the content of a file node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(a *app) error {
				rc, err := a.rt.Service.Export(a.ctx, args[0])
				if err != nil {
					return err
				}
				defer rc.Close()

				w := a.out
				if outputPath != "" && outputPath != "-" {
					f, err := os.Create(outputPath)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer f.Close()
					w = f
				}
				if _, err := io.Copy(w, rc); err != nil {
					return fmt.Errorf("export failed: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "output file (- for stdout)")

	return cmd
}

// NewKeygenCommand creates the keygen command
func NewKeygenCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age identity for blob encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, recipient, err := encrypted.GenerateIdentity()
			if err != nil {
				return err
			}
			content := fmt.Sprintf("# public key: %s\n%s\n", recipient, identity)
			if outputPath == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), content)
				return err
			}
			if err := os.WriteFile(outputPath, []byte(content), 0600); err != nil {
				return fmt.Errorf("failed to write identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Public key: %s\n", recipient)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the identity to this file")

	return cmd
}

// NewEnvCommand creates the env command
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables used for configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.EnvUsage()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), usage)
			return err
		},
	}
}
