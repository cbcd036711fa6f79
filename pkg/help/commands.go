package help

import "strings"

// Category groups commands in help output.
type Category string

const (
	CategoryAnswers Category = "answers"
	CategorySession Category = "session"
	CategoryData    Category = "data"
	CategoryGeneral Category = "general"
)

// CategoryInfo provides display metadata for a command category.
type CategoryInfo struct {
	DisplayName string
	Icon        string
}

// CategoryOrder defines the order in which categories appear in help output.
var CategoryOrder = []Category{
	CategoryAnswers,
	CategorySession,
	CategoryData,
	CategoryGeneral,
}

// Categories maps each Category to its display information.
var Categories = map[Category]CategoryInfo{
	CategoryAnswers: {DisplayName: "Answers", Icon: "📊"},
	CategorySession: {DisplayName: "Conversation", Icon: "💬"},
	CategoryData:    {DisplayName: "Data", Icon: "📁"},
	CategoryGeneral: {DisplayName: "General", Icon: "ℹ️"},
}

// DisplayName returns the human-readable display name for the category.
func (c Category) DisplayName() string {
	if info, ok := Categories[c]; ok {
		return info.DisplayName
	}
	return string(c)
}

// Icon returns the icon for the category.
func (c Category) Icon() string {
	if info, ok := Categories[c]; ok {
		return info.Icon
	}
	return ""
}

// Command is a shell command with its help metadata.
type Command struct {
	// Name includes the leading slash, e.g. "/help".
	Name string
	// Shortcut is an optional short alias, e.g. "/h".
	Shortcut string
	// Aliases are further names that behave the same and are completed but
	// not listed.
	Aliases     []string
	Category    Category
	Description string
	Usage       string
	Examples    []Example
}

// Example is a sample invocation of a command.
type Example struct {
	Command     string
	Description string
}

// Commands contains metadata for all shell commands.
var Commands = []Command{
	{
		Name:        "/schema",
		Category:    CategoryAnswers,
		Description: "Show the columns, types and sample values of the table",
		Usage:       "/schema",
	},
	{
		Name:        "/code",
		Category:    CategoryAnswers,
		Description: "Show the calculation behind the last answer",
		Usage:       "/code",
	},
	{
		Name:        "/debug",
		Category:    CategoryAnswers,
		Description: "Toggle the step-by-step trace after every answer",
		Usage:       "/debug",
	},
	{
		Name:        "/history",
		Category:    CategorySession,
		Description: "Show recent questions and answers",
		Usage:       "/history [n]",
		Examples: []Example{
			{Command: "/history", Description: "Show the last 10 questions"},
			{Command: "/history 3", Description: "Show the last 3 questions"},
		},
	},
	{
		Name:        "/new",
		Category:    CategorySession,
		Description: "Start a new conversation on the same table",
		Usage:       "/new",
	},
	{
		Name:        "/sessions",
		Category:    CategorySession,
		Description: "List open conversations",
		Usage:       "/sessions",
	},
	{
		Name:        "/export",
		Category:    CategorySession,
		Description: "Save this conversation as JSON and an Excel-ready CSV",
		Usage:       "/export [dir]",
		Examples: []Example{
			{Command: "/export", Description: "Write to the configured export directory"},
			{Command: "/export ./reports", Description: "Write under ./reports"},
		},
	},
	{
		Name:        "/load",
		Category:    CategoryData,
		Description: "Open another CSV or XLSX file and start asking about it",
		Usage:       "/load <file> [sheet]",
		Examples: []Example{
			{Command: "/load sales.csv", Description: "Open a CSV file"},
			{Command: "/load budget.xlsx Q3 Plan", Description: "Open the \"Q3 Plan\" sheet"},
		},
	},
	{
		Name:        "/help",
		Shortcut:    "/h",
		Category:    CategoryGeneral,
		Description: "Show this help message",
		Usage:       "/help [command]",
		Examples: []Example{
			{Command: "/help", Description: "Show all commands"},
			{Command: "/help load", Description: "Show detailed /load help"},
		},
	},
	{
		Name:        "/quit",
		Shortcut:    "/q",
		Aliases:     []string{"/exit"},
		Category:    CategoryGeneral,
		Description: "Exit",
		Usage:       "/quit",
	},
}

// GetCommandsByCategory returns all commands in a given category.
func GetCommandsByCategory(cat Category) []Command {
	var result []Command
	for _, cmd := range Commands {
		if cmd.Category == cat {
			result = append(result, cmd)
		}
	}
	return result
}

// GetCommand returns a command by name, shortcut or alias, with or without
// the leading slash.
func GetCommand(name string) (Command, bool) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	for _, cmd := range Commands {
		if cmd.Name == name || cmd.Shortcut == name {
			return cmd, true
		}
		for _, a := range cmd.Aliases {
			if a == name {
				return cmd, true
			}
		}
	}
	return Command{}, false
}

// Names returns every completable command word without the leading slash:
// names, shortcuts and aliases in registry order.
func Names() []string {
	var names []string
	for _, cmd := range Commands {
		names = append(names, strings.TrimPrefix(cmd.Name, "/"))
		if cmd.Shortcut != "" {
			names = append(names, strings.TrimPrefix(cmd.Shortcut, "/"))
		}
		for _, a := range cmd.Aliases {
			names = append(names, strings.TrimPrefix(a, "/"))
		}
	}
	return names
}
