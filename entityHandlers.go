package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/riskwatch_backend/models"
)

// Entity handlers. Writes go through the model functions, whose hooks queue detection
// triggers; the response never waits for the detection cycle.

func createHandler[In any, Out any](create func(context.Context, *In) (Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input In
		if !bindJSON(c, &input) {
			return
		}
		out, err := create(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err, http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func updateHandler[In any, Out any](update func(context.Context, int, *In) (Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		var input In
		if !bindJSON(c, &input) {
			return
		}
		out, err := update(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err, http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// byIdHandler covers get and delete.
func byIdHandler[Out any](fn func(context.Context, int) (Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		out, err := fn(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (a *app) listEmployeesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		employees, err := models.ListEmployees(c.Request.Context())
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, employees)
	}
}

func (a *app) createEmployeeHandler() gin.HandlerFunc {
	return createHandler(models.CreateEmployee)
}

func (a *app) updateEmployeeHandler() gin.HandlerFunc {
	return updateHandler(models.UpdateEmployee)
}

func (a *app) listProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.ProjectStatus
		if s := strings.TrimSpace(c.Query("status")); s != "" {
			st := models.ProjectStatus(s)
			if !st.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			status = &st
		}
		projects, err := models.ListProjects(c.Request.Context(), status)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, projects)
	}
}

func (a *app) createProjectHandler() gin.HandlerFunc {
	return createHandler(models.CreateProject)
}

func (a *app) getProjectHandler() gin.HandlerFunc {
	return byIdHandler(models.GetProject)
}

func (a *app) updateProjectHandler() gin.HandlerFunc {
	return updateHandler(models.UpdateProject)
}

func (a *app) deleteProjectHandler() gin.HandlerFunc {
	return byIdHandler(models.DeleteProject)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (a *app) projectApprovalHandler(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var (
			project *models.Project
			err     error
		)
		switch action {
		case "submit":
			project, err = models.SubmitProjectForApproval(ctx, id)
		case "approve":
			project, err = models.ApproveProject(ctx, id)
		case "reject":
			var req rejectRequest
			if !bindJSON(c, &req) {
				return
			}
			project, err = models.RejectProject(ctx, id, req.Reason)
		default:
			project, err = models.ResetProjectToDraft(ctx, id)
		}
		if err != nil {
			respondError(c, err, http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func (a *app) listActivitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		activities, err := models.ListProjectActivities(c.Request.Context(), projectId, limit)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, activities)
	}
}

func (a *app) listTasksHandler() gin.HandlerFunc {
	return byIdHandler(models.ListProjectTasks)
}

func (a *app) createTaskHandler() gin.HandlerFunc {
	return createHandler(models.CreateTask)
}

func (a *app) updateTaskHandler() gin.HandlerFunc {
	return updateHandler(models.UpdateTask)
}

func (a *app) deleteTaskHandler() gin.HandlerFunc {
	return byIdHandler(models.DeleteTask)
}

func (a *app) listBudgetLinesHandler() gin.HandlerFunc {
	return byIdHandler(models.ListProjectBudgetLines)
}

func (a *app) createBudgetLineHandler() gin.HandlerFunc {
	return createHandler(models.CreateBudgetLine)
}

func (a *app) updateBudgetLineHandler() gin.HandlerFunc {
	return updateHandler(models.UpdateBudgetLine)
}

func (a *app) deleteBudgetLineHandler() gin.HandlerFunc {
	return byIdHandler(models.DeleteBudgetLine)
}

func (a *app) listExpensesHandler() gin.HandlerFunc {
	return byIdHandler(models.ListProjectExpenses)
}

func (a *app) createExpenseHandler() gin.HandlerFunc {
	return createHandler(models.CreateExpense)
}

func (a *app) updateExpenseHandler() gin.HandlerFunc {
	return updateHandler(models.UpdateExpense)
}

func (a *app) deleteExpenseHandler() gin.HandlerFunc {
	return byIdHandler(models.DeleteExpense)
}
