package repl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/memegen/internal/imagestore"
	"github.com/manash/memegen/internal/security"
	"github.com/manash/memegen/internal/session"
	"github.com/manash/memegen/internal/templates"
	"github.com/manash/memegen/pkg/models"
)

var ErrNoProjects = errors.New("project storage is not available")

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func (r *REPL) registerCommands() {
	r.ordered = []Command{
		&LoadCommand{},
		&TemplatesCommand{},
		&TemplateCommand{},
		&TextCommand{},
		&NewTextCommand{},
		&EditTextCommand{},
		&SizeCommand{},
		&MoveCommand{},
		&RemoveCommand{},
		&LayersCommand{},
		&PointerCommand{event: "down"},
		&PointerCommand{event: "drag"},
		&PointerCommand{event: "up"},
		&CaptionsCommand{},
		&UseCommand{},
		&ClearCaptionsCommand{},
		&AnalyzeCommand{},
		&EditCommand{},
		&SaveCommand{},
		&ShowCommand{},
		&DismissCommand{},
		&ProjectCommand{},
		&StatsCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range r.ordered {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// LoadCommand replaces the image with a local file
type LoadCommand struct{}

func (c *LoadCommand) Name() string        { return "load" }
func (c *LoadCommand) Aliases() []string   { return []string{"open", "o"} }
func (c *LoadCommand) Description() string { return "Load an image file and start a new meme" }
func (c *LoadCommand) Usage() string       { return "load <path>" }

func (c *LoadCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	path := strings.Join(args, " ")
	if err := r.studio.LoadFile(path); err != nil {
		return err
	}

	st := r.studio.State()
	fmt.Fprintf(r.out, "Loaded %s (%s, %s), canvas %dx%d\n",
		path, st.ImageMIME, humanize.Bytes(uint64(st.ImageBytes)), st.CanvasWidth, st.CanvasHeight)
	r.showOrWarn()
	return nil
}

// TemplatesCommand lists the template catalog
type TemplatesCommand struct{}

func (c *TemplatesCommand) Name() string        { return "templates" }
func (c *TemplatesCommand) Aliases() []string   { return []string{"tpl"} }
func (c *TemplatesCommand) Description() string { return "List the meme templates" }
func (c *TemplatesCommand) Usage() string       { return "templates" }

func (c *TemplatesCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	for _, t := range templates.All() {
		fmt.Fprintf(r.out, "  %s  %s\n", t.ID, t.Name)
	}
	return nil
}

// TemplateCommand loads a template image
type TemplateCommand struct{}

func (c *TemplateCommand) Name() string        { return "template" }
func (c *TemplateCommand) Aliases() []string   { return []string{"t"} }
func (c *TemplateCommand) Description() string { return "Load a template by id or name" }
func (c *TemplateCommand) Usage() string       { return "template <id|name>" }

func (c *TemplateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	fmt.Fprintln(r.out, "Fetching template...")
	tmpl, err := r.studio.LoadTemplate(ctx, strings.Join(args, " "))
	if err != nil {
		if errors.Is(err, templates.ErrTemplateNotFound) || errors.Is(err, templates.ErrAmbiguousName) {
			return err
		}
		return r.userError(err)
	}

	fmt.Fprintf(r.out, "Loaded template: %s\n", tmpl.Name)
	r.showOrWarn()
	return nil
}

// TextCommand adds a caption layer
type TextCommand struct{}

func (c *TextCommand) Name() string        { return "text" }
func (c *TextCommand) Aliases() []string   { return []string{"add"} }
func (c *TextCommand) Description() string { return "Add a caption (\\n for a line break)" }
func (c *TextCommand) Usage() string       { return "text <content> [y]" }

func (c *TextCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	var y float64
	if len(args) > 1 {
		if v, err := strconv.ParseFloat(args[len(args)-1], 64); err == nil {
			y = v
			args = args[:len(args)-1]
		}
	}

	l := r.studio.AddText(captionText(args), y)
	fmt.Fprintf(r.out, "Added layer %s at (%.0f, %.0f)\n", shortID(l.ID), l.X, l.Y)
	return nil
}

// NewTextCommand adds the placeholder caption
type NewTextCommand struct{}

func (c *NewTextCommand) Name() string        { return "newtext" }
func (c *NewTextCommand) Aliases() []string   { return nil }
func (c *NewTextCommand) Description() string { return "Add a \"New Caption\" layer" }
func (c *NewTextCommand) Usage() string       { return "newtext" }

func (c *NewTextCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	l := r.studio.AddDefaultText()
	fmt.Fprintf(r.out, "Added layer %s at (%.0f, %.0f)\n", shortID(l.ID), l.X, l.Y)
	return nil
}

// EditTextCommand replaces a layer's text
type EditTextCommand struct{}

func (c *EditTextCommand) Name() string        { return "edittext" }
func (c *EditTextCommand) Aliases() []string   { return []string{"et"} }
func (c *EditTextCommand) Description() string { return "Change a caption's text" }
func (c *EditTextCommand) Usage() string       { return "edittext <id> <content>" }

func (c *EditTextCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	id, err := r.studio.ResolveLayer(args[0])
	if err != nil {
		return err
	}
	if err := r.studio.EditText(id, captionText(args[1:])); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Updated layer %s\n", shortID(id))
	return nil
}

// SizeCommand changes a layer's font size
type SizeCommand struct{}

func (c *SizeCommand) Name() string      { return "size" }
func (c *SizeCommand) Aliases() []string { return nil }
func (c *SizeCommand) Description() string {
	return fmt.Sprintf("Set a caption's font size (%d-%d)", models.MinFontSize, models.MaxFontSize)
}
func (c *SizeCommand) Usage() string { return "size <id> <n>" }

func (c *SizeCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid size %q", args[1])
	}
	id, err := r.studio.ResolveLayer(args[0])
	if err != nil {
		return err
	}
	if err := r.studio.ResizeText(id, size); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Layer %s font size: %dpx\n", shortID(id), size)
	return nil
}

// MoveCommand sets a layer's anchor
type MoveCommand struct{}

func (c *MoveCommand) Name() string        { return "move" }
func (c *MoveCommand) Aliases() []string   { return []string{"mv"} }
func (c *MoveCommand) Description() string { return "Move a caption's anchor to canvas coordinates" }
func (c *MoveCommand) Usage() string       { return "move <id> <x> <y>" }

func (c *MoveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	x, y, err := parsePoint(args[1], args[2])
	if err != nil {
		return err
	}
	id, err := r.studio.ResolveLayer(args[0])
	if err != nil {
		return err
	}
	if err := r.studio.MoveText(id, x, y); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Moved layer %s to (%.0f, %.0f)\n", shortID(id), x, y)
	return nil
}

// RemoveCommand deletes a layer
type RemoveCommand struct{}

func (c *RemoveCommand) Name() string        { return "rm" }
func (c *RemoveCommand) Aliases() []string   { return []string{"delete", "del"} }
func (c *RemoveCommand) Description() string { return "Delete a caption" }
func (c *RemoveCommand) Usage() string       { return "rm <id>" }

func (c *RemoveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	id, err := r.studio.ResolveLayer(args[0])
	if err != nil {
		return err
	}
	if err := r.studio.DeleteText(id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Deleted layer %s\n", shortID(id))
	return nil
}

// LayersCommand lists caption layers
type LayersCommand struct{}

func (c *LayersCommand) Name() string        { return "layers" }
func (c *LayersCommand) Aliases() []string   { return []string{"ls"} }
func (c *LayersCommand) Description() string { return "List caption layers" }
func (c *LayersCommand) Usage() string       { return "layers" }

func (c *LayersCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	st := r.studio.State()
	if !st.ShowLayerPanel {
		fmt.Fprintln(r.out, "No layers yet")
		return nil
	}

	fmt.Fprintf(r.out, "%-8s  %-30s  %-12s  %s\n", "ID", "Text", "Position", "Size")
	fmt.Fprintln(r.out, strings.Repeat("-", 62))
	for _, l := range st.Layers {
		marker := "  "
		if l.ID == st.DraggingID {
			marker = "> "
		}
		text := strings.ReplaceAll(l.Content, "\n", " / ")
		fmt.Fprintf(r.out, "%s%-6s  %-30s  %-12s  %dpx\n",
			marker, shortID(l.ID), truncate(text, 30), fmt.Sprintf("%.0f,%.0f", l.X, l.Y), l.FontSize)
	}
	return nil
}

// PointerCommand feeds a pointer event in canvas coordinates to the drag
// controller
type PointerCommand struct {
	event string
}

func (c *PointerCommand) Name() string      { return c.event }
func (c *PointerCommand) Aliases() []string { return nil }
func (c *PointerCommand) Description() string {
	switch c.event {
	case "down":
		return "Press the pointer: grab the top-most caption under it"
	case "drag":
		return "Move the pointer: drag the grabbed caption"
	default:
		return "Release the pointer"
	}
}
func (c *PointerCommand) Usage() string {
	if c.event == "up" {
		return "up"
	}
	return c.event + " <x> <y>"
}

func (c *PointerCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if c.event == "up" {
		r.studio.PointerUp()
		fmt.Fprintln(r.out, "Released")
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	x, y, err := parsePoint(args[0], args[1])
	if err != nil {
		return err
	}
	p := models.Point{X: x, Y: y}

	if c.event == "down" {
		id, ok := r.studio.PointerDown(p)
		if !ok {
			fmt.Fprintln(r.out, "Nothing under the pointer")
			return nil
		}
		fmt.Fprintf(r.out, "Grabbed layer %s\n", shortID(id))
		return nil
	}

	l, ok := r.studio.PointerMove(p)
	if !ok {
		fmt.Fprintln(r.out, "Not dragging")
		return nil
	}
	fmt.Fprintf(r.out, "Layer %s at (%.0f, %.0f)\n", shortID(l.ID), l.X, l.Y)
	return nil
}

// CaptionsCommand asks the AI for caption ideas
type CaptionsCommand struct{}

func (c *CaptionsCommand) Name() string        { return "captions" }
func (c *CaptionsCommand) Aliases() []string   { return []string{"cap", "suggest"} }
func (c *CaptionsCommand) Description() string { return "Suggest captions for the image with AI" }
func (c *CaptionsCommand) Usage() string       { return "captions" }

func (c *CaptionsCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Thinking of captions...")
	captions, err := r.studio.SuggestCaptions(ctx)
	if err != nil {
		return r.userError(err)
	}
	for i, caption := range captions {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, caption)
	}
	fmt.Fprintln(r.out, "Use one with 'use <n>'.")
	return nil
}

// UseCommand turns a suggestion into a layer
type UseCommand struct{}

func (c *UseCommand) Name() string        { return "use" }
func (c *UseCommand) Aliases() []string   { return nil }
func (c *UseCommand) Description() string { return "Add suggested caption n as a layer" }
func (c *UseCommand) Usage() string       { return "use <n>" }

func (c *UseCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid caption number %q", args[0])
	}
	l, err := r.studio.UseCaption(n - 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Added layer %s: %s\n", shortID(l.ID), l.Content)
	return nil
}

// ClearCaptionsCommand discards suggestions
type ClearCaptionsCommand struct{}

func (c *ClearCaptionsCommand) Name() string        { return "clear-captions" }
func (c *ClearCaptionsCommand) Aliases() []string   { return nil }
func (c *ClearCaptionsCommand) Description() string { return "Discard caption suggestions" }
func (c *ClearCaptionsCommand) Usage() string       { return "clear-captions" }

func (c *ClearCaptionsCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.studio.ClearCaptions()
	fmt.Fprintln(r.out, "Suggestions cleared")
	return nil
}

// AnalyzeCommand describes the image with AI
type AnalyzeCommand struct{}

func (c *AnalyzeCommand) Name() string        { return "analyze" }
func (c *AnalyzeCommand) Aliases() []string   { return []string{"an"} }
func (c *AnalyzeCommand) Description() string { return "Describe the image, its vibe and tags" }
func (c *AnalyzeCommand) Usage() string       { return "analyze" }

func (c *AnalyzeCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Analyzing...")
	result, err := r.studio.Analyze(ctx)
	if err != nil {
		return r.userError(err)
	}
	fmt.Fprintf(r.out, "Description: %s\n", result.Description)
	fmt.Fprintf(r.out, "Vibe: %s\n", result.Vibe)
	if len(result.Tags) > 0 {
		tags := make([]string, len(result.Tags))
		for i, t := range result.Tags {
			tags[i] = "#" + t
		}
		fmt.Fprintf(r.out, "Tags: %s\n", strings.Join(tags, " "))
	}
	return nil
}

// EditCommand asks the AI to modify the image
type EditCommand struct{}

func (c *EditCommand) Name() string        { return "edit" }
func (c *EditCommand) Aliases() []string   { return []string{"e"} }
func (c *EditCommand) Description() string { return "Edit the image with an AI instruction" }
func (c *EditCommand) Usage() string       { return "edit <instruction>" }

func (c *EditCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	fmt.Fprintln(r.out, "Editing...")
	changed, err := r.studio.EditImage(ctx, strings.Join(args, " "))
	if err != nil {
		return r.userError(err)
	}
	if !changed {
		fmt.Fprintln(r.out, "The AI returned no image; nothing changed.")
		return nil
	}
	fmt.Fprintln(r.out, "Image updated")
	r.showOrWarn()
	return nil
}

// SaveCommand exports the meme as PNG
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s", "export"} }
func (c *SaveCommand) Description() string { return "Export the meme as PNG" }
func (c *SaveCommand) Usage() string       { return "save [file.png]" }

func (c *SaveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	dest := models.ExportFilename
	if len(args) > 0 {
		dest = args[0]
	}
	if err := security.ValidateExportPath(dest); err != nil {
		return fmt.Errorf("invalid save path: %w", err)
	}

	var buf bytes.Buffer
	if err := r.studio.Export(&buf); err != nil {
		return err
	}
	if err := imagestore.WriteFile(dest, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	fmt.Fprintf(r.out, "Saved: %s (%s)\n", dest, humanize.Bytes(uint64(buf.Len())))
	return nil
}

// ShowCommand displays the rendered meme
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the meme" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	return r.show()
}

// DismissCommand clears the error banner
type DismissCommand struct{}

func (c *DismissCommand) Name() string        { return "dismiss" }
func (c *DismissCommand) Aliases() []string   { return nil }
func (c *DismissCommand) Description() string { return "Dismiss the last error" }
func (c *DismissCommand) Usage() string       { return "dismiss" }

func (c *DismissCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.studio.DismissError()
	return nil
}

// ProjectCommand manages saved projects
type ProjectCommand struct{}

func (c *ProjectCommand) Name() string      { return "project" }
func (c *ProjectCommand) Aliases() []string { return []string{"proj", "p"} }
func (c *ProjectCommand) Description() string {
	return "Manage saved projects (save, load, list, rm, rename, new)"
}
func (c *ProjectCommand) Usage() string { return "project <save|load|list|rm|rename|new> [args]" }

func (c *ProjectCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.projects == nil {
		return ErrNoProjects
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	subCmd := strings.ToLower(args[0])
	subArgs := args[1:]

	switch subCmd {
	case "save":
		return c.save(ctx, r, strings.Join(subArgs, " "))
	case "load":
		if len(subArgs) != 1 {
			return fmt.Errorf("usage: project load <id>")
		}
		return c.load(ctx, r, subArgs[0])
	case "list", "ls":
		return c.list(ctx, r)
	case "rm", "delete":
		if len(subArgs) != 1 {
			return fmt.Errorf("usage: project rm <id>")
		}
		id, err := r.projects.Delete(ctx, subArgs[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Deleted project %s\n", shortID(id))
		return nil
	case "rename":
		if len(subArgs) == 0 {
			return fmt.Errorf("usage: project rename <name>")
		}
		name := strings.Join(subArgs, " ")
		if err := r.projects.Rename(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Project renamed to: %s\n", name)
		return nil
	case "new":
		r.projects.New()
		fmt.Fprintln(r.out, "The next save creates a new project")
		return nil
	default:
		return fmt.Errorf("unknown project command: %s", subCmd)
	}
}

func (c *ProjectCommand) save(ctx context.Context, r *REPL, name string) error {
	snap, err := r.studio.Snapshot()
	if err != nil {
		return err
	}
	p, err := r.projects.Save(ctx, name, snap)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved project: %s (%s)\n", p.DisplayName(), p.ShortID())
	return nil
}

func (c *ProjectCommand) load(ctx context.Context, r *REPL, id string) error {
	p, snap, err := r.projects.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := r.studio.Restore(snap); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Loaded project: %s (%s), %d %s\n",
		p.DisplayName(), p.ShortID(), len(p.Layers), plural(len(p.Layers), "layer", "layers"))
	r.showOrWarn()
	return nil
}

func (c *ProjectCommand) list(ctx context.Context, r *REPL) error {
	projects, err := r.projects.List(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Fprintln(r.out, "No projects found")
		return nil
	}

	currentID := ""
	if r.projects.HasProject() {
		currentID = r.projects.Current().ID
	}

	fmt.Fprintf(r.out, "%-8s  %-20s  %-16s  %-8s  %s\n", "ID", "Name", "Updated", "Layers", "Image")
	fmt.Fprintln(r.out, strings.Repeat("-", 70))
	for _, p := range projects {
		marker := "  "
		if p.ID == currentID {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s%-6s  %-20s  %-16s  %-8d  %s\n",
			marker,
			p.ShortID(),
			truncate(p.DisplayName(), 20),
			humanize.Time(p.UpdatedAt),
			len(p.Layers),
			humanize.Bytes(uint64(p.ImageBytes)))
	}
	return nil
}

// StatsCommand summarizes AI calls
type StatsCommand struct{}

func (c *StatsCommand) Name() string        { return "stats" }
func (c *StatsCommand) Aliases() []string   { return []string{"usage"} }
func (c *StatsCommand) Description() string { return "Summarize AI calls (today, week, month, total)" }
func (c *StatsCommand) Usage() string       { return "stats [today|week|month|total]" }

func (c *StatsCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.projects == nil {
		return ErrNoProjects
	}

	period := "total"
	if len(args) > 0 {
		period = strings.ToLower(args[0])
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := midnight.Add(24 * time.Hour)

	var start time.Time
	var label string
	switch period {
	case "today":
		start, label = midnight, "Today"
	case "week":
		start, label = midnight.Add(-6*24*time.Hour), "Last 7 days"
	case "month":
		start, label = midnight.Add(-29*24*time.Hour), "Last 30 days"
	case "total":
		label = "All time"
	default:
		return fmt.Errorf("unknown stats period: %s\nUsage: %s", period, c.Usage())
	}

	report, err := r.projects.CallSummary(ctx, start, end)
	if err != nil {
		return err
	}
	if report.Total.Calls == 0 {
		fmt.Fprintf(r.out, "%s: no AI calls recorded.\n", label)
		return nil
	}

	fmt.Fprintf(r.out, "%s: %d %s, %d failed, avg %s\n",
		label, report.Total.Calls, plural(report.Total.Calls, "call", "calls"),
		report.Total.Failures, report.Total.AvgDuration().Round(time.Millisecond))

	printGroups(r, "Operation", report.ByOperation)
	printGroups(r, "Provider", report.ByProvider)
	return nil
}

func printGroups(r *REPL, title string, groups []session.GroupSummary) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "%-12s  %-6s  %-6s  %s\n", title, "Calls", "Failed", "Avg")
	fmt.Fprintln(r.out, strings.Repeat("-", 40))
	for _, g := range groups {
		fmt.Fprintf(r.out, "%-12s  %-6d  %-6d  %s\n", g.Key, g.Calls, g.Failures, g.AvgDuration().Round(time.Millisecond))
	}
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range r.ordered {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-22s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                        Usage: %s\n", cmd.Usage())
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Layer ids accept any unique prefix.")
	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

// captionText joins words and turns literal \n into line breaks.
func captionText(args []string) string {
	return strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")
}

func parsePoint(xs, ys string) (float64, float64, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y %q", ys)
	}
	return x, y, nil
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
