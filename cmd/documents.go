package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/pkg/operations"
	"github.com/habedi/docvault/pkg/validation"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// docsCmd groups the document commands.
func docsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Browse and download your documents",
	}

	cmd.AddCommand(
		docsListCmd(configPath),
		docsGetCmd(configPath),
		docsDownloadCmd(configPath),
		docsDeleteCmd(configPath),
	)

	return cmd
}

func docsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List documents, optionally filtered by a search query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = strings.TrimSpace(args[0])
			}
			return withSignedIn(cmd, *configPath, func(a *app) error {
				docs, err := a.api.ListDocuments(cmd.Context(), query)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					cmd.Println("No documents found.")
					return nil
				}
				renderDocuments(cmd.OutOrStdout(), docs)
				log.Info().Msgf("Listed %d documents.", len(docs))
				return nil
			})
		},
	}
}

func docsGetCmd(configPath *string) *cobra.Command {
	var numThreads int

	cmd := &cobra.Command{
		Use:   "get [documentID...]",
		Short: "Show the details of one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := validation.ValidateDocumentID(id); err != nil {
					return validationError(err)
				}
			}
			return withSignedIn(cmd, *configPath, func(a *app) error {
				threads := a.cfg.Threads
				if cmd.Flags().Changed("threads") {
					threads = numThreads
				}
				if err := validation.ValidateThreadCount(threads); err != nil {
					return validationError(err)
				}

				bar := progressbar.NewOptions(len(args),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("Fetching documents..."),
					progressbar.OptionSetWidth(20),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				results := operations.FetchDocuments(cmd.Context(), &countingDocs{DocumentAPI: a.api, bar: bar}, args, threads)
				_ = bar.Finish()

				var docs []client.Document
				var firstErr error
				for _, r := range results {
					if r.Err != nil {
						cmd.PrintErrf("Error: %s: %v\n", args[r.Index], toCLIError(r.Err))
						if firstErr == nil {
							firstErr = r.Err
						}
						continue
					}
					docs = append(docs, *r.Value)
				}
				if len(docs) > 0 {
					renderDocuments(cmd.OutOrStdout(), docs)
				}
				return firstErr
			})
		},
	}

	cmd.Flags().IntVarP(&numThreads, "threads", "t", 4, "Number of worker threads to use [1-20] (default from config)")

	return cmd
}

func docsDownloadCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "download [documentID] [downloadDir]",
		Short: "Download a document",
		Long:  "Download the file of a document into downloadDir (the current directory by default). The file is verified against its checksum when the server provides one.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateDocumentID(id); err != nil {
				return validationError(err)
			}
			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}
			return withSignedIn(cmd, *configPath, func(a *app) error {
				doc, err := a.api.GetDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				size := doc.Size
				if size <= 0 {
					size = -1
				}
				bar := progressbar.NewOptions64(size,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", doc.Title)),
					progressbar.OptionShowBytes(true),
					progressbar.OptionClearOnFinish(),
				)
				path, err := operations.DownloadToFile(cmd.Context(), a.api, doc, dir, bar)
				_ = bar.Finish()
				if err != nil {
					return err
				}
				cmd.Printf("Downloaded \"%s\" to %s\n", doc.Title, path)
				return nil
			})
		},
	}
}

func docsDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [documentID]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateDocumentID(id); err != nil {
				return validationError(err)
			}
			return withSignedIn(cmd, *configPath, func(a *app) error {
				if err := a.api.DeleteDocument(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Deleted document %s.\n", id)
				return nil
			})
		},
	}
}

// countingDocs advances bar once per document fetched.
type countingDocs struct {
	operations.DocumentAPI
	bar *progressbar.ProgressBar
}

func (c *countingDocs) GetDocument(ctx context.Context, id string) (*client.Document, error) {
	defer func() { _ = c.bar.Add(1) }()
	return c.DocumentAPI.GetDocument(ctx, id)
}

func renderDocuments(w io.Writer, docs []client.Document) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Row", "Document ID", "Title", "Size", "Updated"})

	table.SetColMinWidth(2, 40)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	for i, doc := range docs {
		updated := ""
		if !doc.UpdatedAt.IsZero() {
			updated = doc.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			doc.ID,
			strings.ReplaceAll(doc.Title, "\n", " "),
			operations.FormatSize(doc.Size),
			updated,
		})
	}

	table.Render()
}
