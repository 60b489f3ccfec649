package cmd

import (
	"fmt"

	"github.com/habedi/docvault/pkg/validation"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// categoriesCmd lists the document categories.
func categoriesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List document categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedIn(cmd, *configPath, func(a *app) error {
				categories, err := a.api.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				if len(categories) == 0 {
					cmd.Println("No categories found.")
					return nil
				}

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Category ID", "Name", "Documents"})
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
				table.SetAutoWrapText(false)
				for _, c := range categories {
					table.Append([]string{c.ID, c.Name, fmt.Sprintf("%d", c.DocumentCount)})
				}
				table.Render()
				return nil
			})
		},
	}
}

// bookmarksCmd groups the bookmark commands.
func bookmarksCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "Manage bookmarked documents",
	}
	cmd.AddCommand(bookmarksListCmd(configPath), bookmarksAddCmd(configPath))
	return cmd
}

func bookmarksListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bookmarked documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedIn(cmd, *configPath, func(a *app) error {
				bookmarks, err := a.api.ListBookmarks(cmd.Context())
				if err != nil {
					return err
				}
				if len(bookmarks) == 0 {
					cmd.Println("No bookmarks yet. Use 'docvault bookmarks add' to create one.")
					return nil
				}

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Bookmark ID", "Document ID", "Created"})
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
				for _, b := range bookmarks {
					table.Append([]string{b.ID, b.DocumentID, b.CreatedAt.Local().Format("2006-01-02 15:04")})
				}
				table.Render()
				return nil
			})
		},
	}
}

func bookmarksAddCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add [documentID]",
		Short: "Bookmark a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateDocumentID(args[0]); err != nil {
				return validationError(err)
			}
			return withSignedIn(cmd, *configPath, func(a *app) error {
				b, err := a.api.AddBookmark(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Bookmarked document %s (bookmark %s).\n", b.DocumentID, b.ID)
				return nil
			})
		},
	}
}
