package workflow

import (
	"context"
	"sort"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssignmentOutcome string

const (
	AssignmentAssign              AssignmentOutcome = "ASSIGN"
	AssignmentSkipNotFound        AssignmentOutcome = "SKIP_NOT_FOUND"
	AssignmentSkipClosed          AssignmentOutcome = "SKIP_CLOSED"
	AssignmentSkipInProgress      AssignmentOutcome = "SKIP_IN_PROGRESS"
	AssignmentSkipAlreadyAssigned AssignmentOutcome = "SKIP_ALREADY_ASSIGNED"
	AssignmentSkipNoOperator      AssignmentOutcome = "SKIP_NO_OPERATOR"
)

type AssignmentItem struct {
	TaskId           int               `json:"task_id"`
	Outcome          AssignmentOutcome `json:"outcome"`
	Assignee         string            `json:"assignee,omitempty"`
	PreviousAssignee string            `json:"previous_assignee,omitempty"`
}

type AssignmentPreview struct {
	Items []AssignmentItem `json:"items"`
	// Loads is every eligible operator's ASSIGNED+IN_PROGRESS count after the plan.
	Loads map[string]int `json:"loads"`
}

func (p *AssignmentPreview) Count(outcome AssignmentOutcome) int {
	n := 0
	for _, item := range p.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// PlanAutoAssignment previews a greedy least-loaded distribution of taskIds.
func (e *Engine) PlanAutoAssignment(ctx context.Context, taskIds []int, reassignAssigned bool) (*AssignmentPreview, error) {
	tx := e.db.WithContext(ctx)
	tasks, err := models.ListTasksByIds(tx, utils.UniqueSlice(taskIds))
	if err != nil {
		return nil, err
	}
	operators, loads, err := operatorLoads(tx)
	if err != nil {
		return nil, err
	}
	return planAssignments(taskIds, tasks, operators, loads, reassignAssigned), nil
}

// ApplyAutoAssignment re-plans against locked rows and assigns in one transaction.
func (e *Engine) ApplyAutoAssignment(ctx context.Context, taskIds []int, reassignAssigned bool) (*AssignmentPreview, error) {
	var preview *AssignmentPreview
	err := e.run(ctx, "ApplyAutoAssignment", func(uow *unitOfWork) error {
		var tasks []models.Task
		ids := utils.UniqueSlice(taskIds)
		if len(ids) > 0 {
			if err := uow.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id IN ?", ids).Order("id").Find(&tasks).Error; err != nil {
				return err
			}
		}
		operators, loads, err := operatorLoads(uow.tx)
		if err != nil {
			return err
		}
		preview = planAssignments(taskIds, tasks, operators, loads, reassignAssigned)

		byId := make(map[int]*models.Task, len(tasks))
		for i := range tasks {
			byId[tasks[i].ID] = &tasks[i]
		}
		for _, item := range preview.Items {
			if item.Outcome != AssignmentAssign {
				continue
			}
			if err := e.assignTask(uow, byId[item.TaskId], item.Assignee); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func operatorLoads(tx *gorm.DB) ([]string, map[string]int, error) {
	users, err := models.ListActiveOperators(tx)
	if err != nil {
		return nil, nil, err
	}
	operators := make([]string, 0, len(users))
	loads := make(map[string]int, len(users))
	for _, u := range users {
		operators = append(operators, u.Username)
		loads[u.Username] = 0
	}
	counts, err := models.CountActiveLoad(tx)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range counts {
		if _, ok := loads[c.Assignee]; ok {
			loads[c.Assignee] = c.TaskCount
		}
	}
	return operators, loads, nil
}

// planAssignments walks tasks by ascending id, giving each to the operator
// with the lowest running load (ties by username).
func planAssignments(taskIds []int, tasks []models.Task, operators []string, loads map[string]int, reassignAssigned bool) *AssignmentPreview {
	ids := utils.UniqueSlice(taskIds)
	sort.Ints(ids)
	byId := make(map[int]models.Task, len(tasks))
	for _, t := range tasks {
		byId[t.ID] = t
	}
	sorted := append([]string(nil), operators...)
	sort.Strings(sorted)
	running := make(map[string]int, len(loads))
	for k, v := range loads {
		running[k] = v
	}

	preview := &AssignmentPreview{Items: make([]AssignmentItem, 0, len(ids))}
	for _, id := range ids {
		task, ok := byId[id]
		item := AssignmentItem{TaskId: id}
		switch {
		case !ok:
			item.Outcome = AssignmentSkipNotFound
		case task.Status.IsTerminal():
			item.Outcome = AssignmentSkipClosed
		case task.Status == models.TaskStatusInProgress:
			item.Outcome = AssignmentSkipInProgress
		case task.Status == models.TaskStatusAssigned && !reassignAssigned:
			item.Outcome = AssignmentSkipAlreadyAssigned
			item.Assignee = task.Assignee
		case len(sorted) == 0:
			item.Outcome = AssignmentSkipNoOperator
		default:
			if task.Status == models.TaskStatusAssigned && task.Assignee != "" {
				item.PreviousAssignee = task.Assignee
				if n, counted := running[task.Assignee]; counted && n > 0 {
					running[task.Assignee] = n - 1
				}
			}
			best := sorted[0]
			for _, name := range sorted[1:] {
				if running[name] < running[best] {
					best = name
				}
			}
			running[best]++
			item.Outcome = AssignmentAssign
			item.Assignee = best
		}
		preview.Items = append(preview.Items, item)
	}
	preview.Loads = running
	return preview
}
