package client

import (
	"context"
	"fmt"
	"time"

	"rpcdemo/internal/demo"
)

// WaterfallResult holds every step of the dependent request chain
type WaterfallResult struct {
	Initial      demo.InitialData  `json:"initial"`
	Organization demo.Organization `json:"organization"`
	Project      demo.Project      `json:"project"`
	Lead         demo.UserProfile  `json:"lead"`
	Team         []demo.TeamMember `json:"team"`
	Took         time.Duration     `json:"took"`
}

// Waterfall runs the five dependent queries in order, each feeding the next
func (c *Client) Waterfall(ctx context.Context) (*WaterfallResult, error) {
	start := time.Now()
	res := &WaterfallResult{}

	steps := []struct {
		method string
		params func() interface{}
		out    interface{}
	}{
		{demo.GetInitialData, func() interface{} { return nil }, &res.Initial},
		{demo.GetOrganizationDetails, func() interface{} {
			return map[string]string{"orgId": res.Initial.OrganizationID}
		}, &res.Organization},
		{demo.GetProjectInfo, func() interface{} {
			return map[string]string{"projectId": res.Organization.PrimaryProjectID}
		}, &res.Project},
		{demo.GetUserProfile, func() interface{} {
			return map[string]string{"userId": res.Project.LeadUserID}
		}, &res.Lead},
		{demo.GetTeamMembers, func() interface{} {
			return map[string]string{"teamId": res.Lead.TeamID}
		}, &res.Team},
	}

	for i, step := range steps {
		stepStart := time.Now()
		if err := c.Call(ctx, step.method, step.params(), step.out); err != nil {
			return nil, fmt.Errorf("waterfall step %d (%s): %w", i+1, step.method, err)
		}
		c.logger.Info().
			Str("step", fmt.Sprintf("%d/%d", i+1, len(steps))).
			Str("method", step.method).
			Dur("took", time.Since(stepStart)).
			Msg("waterfall step completed")
	}

	res.Took = time.Since(start)
	return res, nil
}

// UserWithPosts pairs a user with their posts
type UserWithPosts struct {
	ID    string      `json:"id"`
	User  *demo.User  `json:"user"`
	Posts []demo.Post `json:"posts"`
}

// Users fetches every user and their posts in one JSON-RPC batch. The server
// resolves all getUserById calls together and all getPostsByUserId calls together.
func (c *Client) Users(ctx context.Context, ids []string) ([]UserWithPosts, error) {
	calls := make([]Call, 0, 2*len(ids))
	for _, id := range ids {
		calls = append(calls,
			Call{Method: demo.GetUserByID, Params: id},
			Call{Method: demo.GetPostsByUserID, Params: id},
		)
	}

	responses, err := c.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	users := make([]UserWithPosts, len(ids))
	for i, id := range ids {
		users[i].ID = id
		if err := decodeResult(responses[2*i], &users[i].User); err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		if err := decodeResult(responses[2*i+1], &users[i].Posts); err != nil {
			return nil, fmt.Errorf("posts of %s: %w", id, err)
		}
	}
	return users, nil
}
