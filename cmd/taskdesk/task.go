package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskdesk/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var (
	taskDescription string
	taskCategory    string
	taskPriority    string
	taskAssignee    string
	taskEmail       string
	taskDueDate     string
	listStatus      string
	listAssignee    string
)

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id> <field=value>...",
	Short: "Update task fields",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskUpdate,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id> [details]",
	Short: "Mark a task done",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskComplete,
}

var taskReturnCmd = &cobra.Command{
	Use:   "return <id> <reason>",
	Short: "Return a task for completion",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskReturn,
}

var taskResubmitCmd = &cobra.Command{
	Use:   "resubmit <id> [response]",
	Short: "Resubmit a returned task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskResubmit,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().StringVarP(&taskCategory, "category", "c", "other", "Category (legal, technical, billing, meeting, admin, other)")
	taskAddCmd.Flags().StringVarP(&taskPriority, "priority", "p", "normal", "Priority (normal, urgent, very-urgent)")
	taskAddCmd.Flags().StringVarP(&taskAssignee, "assignee", "a", "", "Assignee name")
	taskAddCmd.Flags().StringVarP(&taskEmail, "email", "e", "", "Assignee email")
	taskAddCmd.Flags().StringVar(&taskDueDate, "due", "", "Due date (YYYY-MM-DD)")

	taskListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	taskListCmd.Flags().StringVar(&listAssignee, "assignee", "", "Filter by assignee")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskReturnCmd)
	taskCmd.AddCommand(taskResubmitCmd)
	taskCmd.AddCommand(taskDeleteCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	title := args[0]
	for _, extra := range args[1:] {
		title += " " + extra
	}

	creator := "cli"
	if s := getSession(); s != nil {
		if u := s.User(); u != nil {
			creator = u.Name
		}
	}

	payload := map[string]any{
		"title":             title,
		"description":       taskDescription,
		"category":          taskCategory,
		"priority":          taskPriority,
		"assigned_to":       taskAssignee,
		"assigned_to_email": taskEmail,
		"created_by":        creator,
	}
	if taskDueDate != "" {
		payload["due_date"] = taskDueDate
	}

	raw, err := apiPost("/api/tasks", payload)
	if err != nil {
		return err
	}
	var task models.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return err
	}
	fmt.Printf("Created task %s: %s\n", task.TaskID, task.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	path := "/api/tasks"
	sep := "?"
	if listStatus != "" {
		path += sep + "status=" + listStatus
		sep = "&"
	}
	if listAssignee != "" {
		path += sep + "assignee=" + listAssignee
	}

	raw, err := apiGet(path)
	if err != nil {
		return err
	}
	var tasks []*models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(t.ID), t.Status, t.Priority, t.AssignedTo, t.Title)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	raw, err := apiGet("/api/tasks/" + args[0])
	if err != nil {
		return err
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}

	fmt.Printf("Task:       %s\n", t.TaskID)
	fmt.Printf("Title:      %s\n", t.Title)
	fmt.Printf("Status:     %s\n", t.Status)
	fmt.Printf("Priority:   %s\n", t.Priority)
	fmt.Printf("Category:   %s\n", t.Category)
	fmt.Printf("Assigned:   %s <%s>\n", t.AssignedTo, t.AssignedEmail)
	fmt.Printf("Created by: %s at %s\n", t.CreatedBy, t.CreatedAt.Format("2006-01-02 15:04"))
	if t.DueDate != nil {
		fmt.Printf("Due:        %s\n", t.DueDate.Format("2006-01-02"))
	}
	if t.Description != "" {
		fmt.Printf("Description: %s\n", t.Description)
	}
	if t.ReturnCount > 0 {
		fmt.Printf("Returned:   %d time(s), notes: %s\n", t.ReturnCount, t.SecretaryNotes)
	}
	if t.CompletionDetails != "" {
		fmt.Printf("Completed:  %s %s: %s\n", t.CompletionDate, t.CompletionTime, t.CompletionDetails)
	}
	return nil
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	id := args[0]
	payload := map[string]any{}
	for _, pair := range args[1:] {
		key, value, ok := splitPair(pair)
		if !ok {
			return fmt.Errorf("expected field=value, got %q", pair)
		}
		payload[key] = value
	}

	raw, err := apiPut("/api/tasks/"+id, payload)
	if err != nil {
		return err
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}
	fmt.Printf("Updated task %s\n", t.TaskID)
	return nil
}

func splitPair(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], i > 0
		}
	}
	return "", "", false
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	details := ""
	for i, arg := range args[1:] {
		if i > 0 {
			details += " "
		}
		details += arg
	}
	raw, err := apiPost("/api/tasks/"+args[0]+"/complete", map[string]string{"details": details})
	if err != nil {
		return err
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}
	fmt.Printf("Completed task %s\n", t.TaskID)
	return nil
}

func runTaskReturn(cmd *cobra.Command, args []string) error {
	reason := ""
	for i, arg := range args[1:] {
		if i > 0 {
			reason += " "
		}
		reason += arg
	}
	raw, err := apiPost("/api/tasks/"+args[0]+"/return", map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}
	fmt.Printf("Returned task %s (return #%d)\n", t.TaskID, t.ReturnCount)
	return nil
}

func runTaskResubmit(cmd *cobra.Command, args []string) error {
	response := ""
	for i, arg := range args[1:] {
		if i > 0 {
			response += " "
		}
		response += arg
	}
	raw, err := apiPost("/api/tasks/"+args[0]+"/resubmit", map[string]string{"response": response})
	if err != nil {
		return err
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}
	fmt.Printf("Resubmitted task %s\n", t.TaskID)
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/api/tasks/" + args[0]); err != nil {
		return err
	}
	fmt.Println("Task deleted.")
	return nil
}
