package tools

import "github.com/mark3labs/mcp-go/mcp"

// Tool schemas. Bounds and defaults are documented in the parameter
// descriptions and enforced by the handlers and the task service.

func taskCreateTool() mcp.Tool {
	return mcp.NewTool("task_create",
		mcp.WithDescription("Create a new task with specified details. Returns the created task with generated ID."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Task title (required, 1-500 characters)"),
		),
		mcp.WithString("project",
			mcp.Description("Project or category name (optional, max 100 characters)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Priority level: 1=Someday, 2=Low, 3=Medium (default), 4=High, 5=Critical"),
		),
		mcp.WithString("energy",
			mcp.Description("Energy level required: light, medium (default), or deep"),
			mcp.Enum("light", "medium", "deep"),
		),
		mcp.WithString("time_estimate",
			mcp.Description("Estimated time to complete (e.g., '1hr', '30min', '2hr')"),
		),
		mcp.WithString("notes",
			mcp.Description("Additional notes or description (optional)"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date in ISO 8601 format (optional)"),
		),
	)
}

func taskListTool() mcp.Tool {
	return mcp.NewTool("task_list",
		mcp.WithDescription("List tasks with optional filters. Returns an array of tasks sorted by priority (descending) and creation date."),
		mcp.WithString("project",
			mcp.Description("Filter tasks by project name (optional)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Filter tasks by priority level (1-5, optional)"),
		),
		mcp.WithBoolean("show_completed",
			mcp.Description("Include completed tasks in results (default: false)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return (default: 100, max: 1000)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of tasks to skip for pagination (default: 0)"),
		),
	)
}

func taskGetTool() mcp.Tool {
	return mcp.NewTool("task_get",
		mcp.WithDescription("Get a specific task by ID. Returns the complete task details."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to retrieve (required)"),
		),
	)
}

func taskUpdateTool() mcp.Tool {
	return mcp.NewTool("task_update",
		mcp.WithDescription("Update an existing task. Only provided fields will be updated. Returns the updated task."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to update (required)"),
		),
		mcp.WithString("title",
			mcp.Description("New task title (optional, 1-500 characters)"),
		),
		mcp.WithString("project",
			mcp.Description("New project name (optional)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("New priority level (1-5, optional)"),
		),
		mcp.WithString("energy",
			mcp.Description("New energy level (optional)"),
			mcp.Enum("light", "medium", "deep"),
		),
		mcp.WithString("time_estimate",
			mcp.Description("New time estimate (optional)"),
		),
		mcp.WithString("notes",
			mcp.Description("New notes (optional)"),
		),
		mcp.WithString("due_date",
			mcp.Description("New due date in ISO 8601 (optional)"),
		),
	)
}

func taskCompleteTool() mcp.Tool {
	return mcp.NewTool("task_complete",
		mcp.WithDescription("Mark a task as complete. Sets completed=true and records completion timestamp. Returns the updated task."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to mark complete (required)"),
		),
	)
}

func taskDeleteTool() mcp.Tool {
	return mcp.NewTool("task_delete",
		mcp.WithDescription("Permanently delete a task. This action cannot be undone. Returns success confirmation."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to delete (required)"),
		),
	)
}

func taskSearchTool() mcp.Tool {
	return mcp.NewTool("task_search",
		mcp.WithDescription("Search tasks by keywords in title or notes. Returns matching tasks sorted by priority and creation date."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string (required, minimum 1 character)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 100, max: 1000)"),
		),
	)
}

func taskStatsTool() mcp.Tool {
	return mcp.NewTool("task_stats",
		mcp.WithDescription("Get task statistics including total, completed, incomplete counts, completion rate, and breakdowns by project and priority."),
		mcp.WithString("project",
			mcp.Description("Filter statistics to a specific project (optional)"),
		),
	)
}

func taskScheduleTool() mcp.Tool {
	return mcp.NewTool("task_schedule",
		mcp.WithDescription("Schedule a task to Google Calendar. Creates a calendar event linked to the task with specified start time and duration. Requires Google Calendar OAuth scope."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to schedule (required)"),
		),
		mcp.WithString("start_time",
			mcp.Required(),
			mcp.Description("Event start time in ISO 8601 format with timezone (e.g., '2025-12-30T14:00:00-08:00')"),
		),
		mcp.WithNumber("duration_minutes",
			mcp.Description("Event duration in minutes (5-480, default: 60)"),
		),
	)
}
