package console

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/image"
	"github.com/manash/vardash/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, c *Console, args []string) error
}

func allCommands() []Command {
	return []Command{
		&SelectCommand{},
		&ClearCommand{},
		&UploadCommand{},
		&StatusCommand{},
		&GalleryCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (c *Console) registerCommands() {
	for _, cmd := range allCommands() {
		c.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			c.commands[alias] = cmd
		}
	}
}

// SelectCommand stages a local file and shows what was staged
type SelectCommand struct{}

func (s *SelectCommand) Name() string        { return "select" }
func (s *SelectCommand) Aliases() []string   { return []string{"sel", "open"} }
func (s *SelectCommand) Description() string { return "Stage an image file for upload" }
func (s *SelectCommand) Usage() string       { return "select <path>" }

func (s *SelectCommand) Execute(_ context.Context, c *Console, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", s.Usage())
	}
	sel, err := c.stage(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Selected %s (%s, %s)\n", sel.Filename, sel.ContentType, humanize.Bytes(uint64(sel.Size())))
	return nil
}

func (c *Console) stage(path string) (*models.Selection, error) {
	data, err := c.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	sel, err := models.NewSelection(filepath.Base(path), "", data)
	if err != nil {
		return nil, err
	}
	c.dash.Select(sel)
	return sel, nil
}

// ClearCommand drops the staged file
type ClearCommand struct{}

func (s *ClearCommand) Name() string        { return "clear" }
func (s *ClearCommand) Aliases() []string   { return []string{"reset"} }
func (s *ClearCommand) Description() string { return "Clear the staged file" }
func (s *ClearCommand) Usage() string       { return "clear" }

func (s *ClearCommand) Execute(_ context.Context, c *Console, _ []string) error {
	c.dash.Select(nil)
	fmt.Fprintln(c.out, "Selection cleared.")
	return nil
}

// UploadCommand uploads the staged file and starts generation
type UploadCommand struct{}

func (s *UploadCommand) Name() string        { return "upload" }
func (s *UploadCommand) Aliases() []string   { return []string{"up", "u"} }
func (s *UploadCommand) Description() string { return "Upload the staged image and generate variations" }
func (s *UploadCommand) Usage() string       { return "upload [path]" }

func (s *UploadCommand) Execute(ctx context.Context, c *Console, args []string) error {
	if len(args) > 0 {
		if _, err := c.stage(args[0]); err != nil {
			return err
		}
	}

	err := c.dash.Upload(ctx)
	if errors.Is(err, dashboard.ErrDashboardClosed) {
		return err
	}

	snap := c.dash.Snapshot()
	fmt.Fprintln(c.out, snap.UploadStatus)
	if snap.GenerationMessage != "" {
		fmt.Fprintln(c.out, snap.GenerationMessage)
	}
	if snap.IsGenerating {
		fmt.Fprintln(c.out, "Generating image variations...")
	}
	return nil
}

// StatusCommand prints the view state
type StatusCommand struct{}

func (s *StatusCommand) Name() string        { return "status" }
func (s *StatusCommand) Aliases() []string   { return []string{"st"} }
func (s *StatusCommand) Description() string { return "Show upload and generation status" }
func (s *StatusCommand) Usage() string       { return "status" }

func (s *StatusCommand) Execute(_ context.Context, c *Console, _ []string) error {
	snap := c.dash.Snapshot()

	selected := "none"
	if snap.Filename != "" {
		selected = fmt.Sprintf("%s (%s)", snap.Filename, humanize.Bytes(uint64(snap.SelectionSize)))
	}
	fmt.Fprintf(c.out, "Selected:   %s\n", selected)
	if snap.UploadStatus != "" {
		fmt.Fprintf(c.out, "Upload:     %s\n", snap.UploadStatus)
	}
	if snap.ImageID != 0 {
		fmt.Fprintf(c.out, "Image ID:   %d\n", snap.ImageID)
	}
	if snap.GenerationMessage != "" {
		fmt.Fprintf(c.out, "Message:    %s\n", snap.GenerationMessage)
	}
	fmt.Fprintf(c.out, "Generating: %t\n", snap.IsGenerating)
	fmt.Fprintf(c.out, "Progress:   %s%%\n", formatProgress(snap.Progress))
	fmt.Fprintf(c.out, "Received:   %d variation(s)\n", len(snap.GeneratedImages))
	return nil
}

// GalleryCommand lists the received variations
type GalleryCommand struct{}

func (s *GalleryCommand) Name() string        { return "gallery" }
func (s *GalleryCommand) Aliases() []string   { return []string{"ls", "list"} }
func (s *GalleryCommand) Description() string { return "List received variations" }
func (s *GalleryCommand) Usage() string       { return "gallery" }

func (s *GalleryCommand) Execute(_ context.Context, c *Console, _ []string) error {
	images := c.dash.Snapshot().GeneratedImages
	if len(images) == 0 {
		fmt.Fprintln(c.out, "No variations received yet.")
		return nil
	}
	for i, u := range images {
		fmt.Fprintf(c.out, "%3d  %s\n", i+1, u)
	}
	return nil
}

// ShowCommand draws variations inline
type ShowCommand struct{}

func (s *ShowCommand) Name() string        { return "show" }
func (s *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (s *ShowCommand) Description() string { return "Display variations inline (kitty graphics)" }
func (s *ShowCommand) Usage() string       { return "show [n]" }

func (s *ShowCommand) Execute(ctx context.Context, c *Console, args []string) error {
	if c.displayer == nil {
		return fmt.Errorf("this terminal cannot display images, use 'gallery' or 'save'")
	}
	images := c.dash.Snapshot().GeneratedImages
	if len(images) == 0 {
		return fmt.Errorf("no variations received yet")
	}
	if len(args) == 0 {
		return c.displayer.ShowAll(ctx, images)
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(images) {
		return fmt.Errorf("variation must be between 1 and %d", len(images))
	}
	return c.displayer.ShowURL(ctx, images[n-1])
}

// SaveCommand downloads the received variations
type SaveCommand struct{}

func (s *SaveCommand) Name() string        { return "save" }
func (s *SaveCommand) Aliases() []string   { return []string{"s"} }
func (s *SaveCommand) Description() string { return "Download received variations into a directory" }
func (s *SaveCommand) Usage() string       { return "save [dir]" }

func (s *SaveCommand) Execute(ctx context.Context, c *Console, args []string) error {
	images := c.dash.Snapshot().GeneratedImages
	if len(images) == 0 {
		return fmt.Errorf("no variations to save")
	}

	dir := "."
	if len(args) > 0 {
		dir = args[0]
		if err := image.ValidateSaveDir(dir); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	}

	paths, err := c.saver.SaveAll(ctx, images, dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(c.out, "Saved: %s\n", p)
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (s *HelpCommand) Name() string        { return "help" }
func (s *HelpCommand) Aliases() []string   { return []string{"?"} }
func (s *HelpCommand) Description() string { return "Show available commands" }
func (s *HelpCommand) Usage() string       { return "help" }

func (s *HelpCommand) Execute(_ context.Context, c *Console, _ []string) error {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(c.out, "  %-20s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(c.out, "                      Usage: %s\n", cmd.Usage())
	}
	return nil
}

// QuitCommand leaves the console
type QuitCommand struct{}

func (s *QuitCommand) Name() string        { return "quit" }
func (s *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (s *QuitCommand) Description() string { return "Exit the console" }
func (s *QuitCommand) Usage() string       { return "quit" }

func (s *QuitCommand) Execute(_ context.Context, c *Console, _ []string) error {
	fmt.Fprintln(c.out, "Goodbye!")
	c.Stop()
	return nil
}

func formatProgress(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
