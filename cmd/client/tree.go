package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/idsync/internal/client/conflict"
	"github.com/openmined/idsync/internal/client/remoteapi"
	"github.com/spf13/cobra"
)

var (
	dirStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	trashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Underline(true)
)

func init() {
	rootCmd.AddCommand(newTreeCmd())
}

func newTreeCmd() *cobra.Command {
	var showTrash bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the remote tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			remote, err := remoteapi.New(cfg.ServerURL)
			if err != nil {
				return err
			}
			tr, err := remote.Tree(cmd.Context())
			if err != nil {
				return err
			}

			printTree(cmd.OutOrStdout(), tr, showTrash)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showTrash, "trash", "t", false, "also list the trash")
	return cmd
}

func printTree(w io.Writer, tr *remoteapi.TreeResponse, showTrash bool) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("remote tree (%d changes)", tr.Changes)))
	for _, p := range tr.Entries {
		fmt.Fprintln(w, renderEntry(p, lipgloss.NewStyle()))
	}

	if showTrash && len(tr.Trash) > 0 {
		fmt.Fprintln(w, headerStyle.Render("trash"))
		for _, p := range tr.Trash {
			fmt.Fprintln(w, renderEntry(p, trashStyle))
		}
	}
}

// renderEntry indents by depth and colours directories and conflict copies.
func renderEntry(p string, base lipgloss.Style) string {
	isDir := strings.HasSuffix(p, "/")
	clean := strings.TrimSuffix(p, "/")
	depth := strings.Count(clean, "/")
	name := path.Base(clean)

	style := base
	switch {
	case conflict.HasMarker(name):
		style = conflictStyle
	case isDir:
		style = dirStyle
	}
	if isDir {
		name += "/"
	}
	return strings.Repeat("  ", depth) + style.Render(name)
}
