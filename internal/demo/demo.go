package demo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/coalescer"
	"rpcdemo/internal/remote"
)

// Function names
const (
	GetDelayedTime         = "getDelayedTime"
	GetErrorQuery          = "getErrorQuery"
	IncrementCounter       = "incrementCounter"
	TestForm               = "testForm"
	GetUserByID            = "getUserById"
	GetPostsByUserID       = "getPostsByUserId"
	GetInitialData         = "getInitialData"
	GetOrganizationDetails = "getOrganizationDetails"
	GetProjectInfo         = "getProjectInfo"
	GetUserProfile         = "getUserProfile"
	GetTeamMembers         = "getTeamMembers"
)

// Simulated latencies in milliseconds
const (
	DefaultDelayedTime = 1500
	errorDelay         = 500
	counterDelay       = 500
	formDelay          = 800
	batchDelay         = 500
	waterfallDelay     = 400
)

// demoUser is reported as the caller of every endpoint
const demoUser = "demo-user"

// ErrBoundary is returned by getErrorQuery
var ErrBoundary = remote.NewError(http.StatusInternalServerError, "This is a test error for boundary testing")

// Options configures the demo endpoints
type Options struct {
	DelayScale   float64 // multiplier for simulated latency, 0 disables sleeping
	BatchWindow  time.Duration
	MaxBatchSize int
	Now          func() time.Time
}

// Service implements the demo endpoints
type Service struct {
	scale        float64
	batchWindow  time.Duration
	maxBatchSize int
	now          func() time.Time
	logger       zerolog.Logger
}

// New creates a new Service
func New(opts Options, logger zerolog.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		scale:        opts.DelayScale,
		batchWindow:  opts.BatchWindow,
		maxBatchSize: opts.MaxBatchSize,
		now:          now,
		logger:       logger.With().Str("component", "demo").Logger(),
	}
}

// Register adds every demo endpoint to reg
func Register(reg *remote.Registry, opts Options, logger zerolog.Logger) error {
	return reg.Register(New(opts, logger).Functions()...)
}

// Functions returns the demo endpoints
func (s *Service) Functions() []*remote.Function {
	return []*remote.Function{
		remote.Query(GetDelayedTime, s.getDelayedTime),
		remote.Query(GetErrorQuery, s.getErrorQuery),
		remote.Command(IncrementCounter, s.incrementCounter),
		remote.Form(TestForm, s.testForm),
		remote.Batch(s.batchConfig(GetUserByID), s.fetchUsers),
		remote.Batch(s.batchConfig(GetPostsByUserID), s.fetchPosts),
		remote.Query(GetInitialData, s.getInitialData),
		remote.Query(GetOrganizationDetails, s.getOrganizationDetails),
		remote.Query(GetProjectInfo, s.getProjectInfo),
		remote.Query(GetUserProfile, s.getUserProfile),
		remote.Query(GetTeamMembers, s.getTeamMembers),
	}
}

func (s *Service) batchConfig(name string) coalescer.Config {
	return coalescer.Config{
		Name:         name,
		Window:       s.batchWindow,
		MaxBatchSize: s.maxBatchSize,
		Logger:       s.logger,
	}
}

// sleep simulates latency, scaled by the configured factor
func (s *Service) sleep(ctx context.Context, ms float64) error {
	d := time.Duration(ms * s.scale * float64(time.Millisecond))
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timestamp formats the current time like an ISO 8601 UTC timestamp with milliseconds
func (s *Service) timestamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (s *Service) getDelayedTime(ctx context.Context, in DelayedTimeInput) (DelayedTime, error) {
	if err := s.sleep(ctx, *in.Delay); err != nil {
		return DelayedTime{}, err
	}
	return DelayedTime{
		Timestamp: s.timestamp(),
		UserID:    demoUser,
		Delay:     *in.Delay,
	}, nil
}

func (s *Service) getErrorQuery(ctx context.Context, _ struct{}) (struct{}, error) {
	if err := s.sleep(ctx, errorDelay); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, ErrBoundary
}

func (s *Service) incrementCounter(ctx context.Context, in CounterInput) (CounterResult, error) {
	if err := s.sleep(ctx, counterDelay); err != nil {
		return CounterResult{}, err
	}
	return CounterResult{
		NewValue:  *in.CurrentValue + 1,
		Timestamp: s.timestamp(),
	}, nil
}

func (s *Service) testForm(ctx context.Context, in TestFormInput) (TestFormResult, error) {
	if err := s.sleep(ctx, formDelay); err != nil {
		return TestFormResult{}, err
	}
	return TestFormResult{
		Success: true,
		Data: TestFormData{
			Message:     in.Message,
			Count:       float64(in.Count),
			Timestamp:   s.timestamp(),
			ProcessedBy: demoUser,
		},
	}, nil
}

// fetchUsers resolves one batch of getUserById calls
func (s *Service) fetchUsers(ctx context.Context, ids []string) (coalescer.Lookup[string, User], error) {
	s.logger.Info().Strs("userIds", ids).Msg("fetching users batch")
	if err := s.sleep(ctx, batchDelay); err != nil {
		return nil, err
	}

	users := make(map[string]User, len(ids))
	for _, id := range ids {
		role := "User"
		if id == "admin" {
			role = "Administrator"
		}
		users[id] = User{
			ID:    id,
			Name:  "User " + id,
			Email: id + "@example.com",
			Role:  role,
		}
	}

	return coalescer.LookupFunc[string, User](func(id string) (User, bool) {
		user, ok := users[id]
		return user, ok
	}), nil
}

// fetchPosts resolves one batch of getPostsByUserId calls. Unknown users have no posts.
func (s *Service) fetchPosts(ctx context.Context, ids []string) (coalescer.Lookup[string, []Post], error) {
	s.logger.Info().Strs("userIds", ids).Msg("fetching posts batch")
	if err := s.sleep(ctx, batchDelay); err != nil {
		return nil, err
	}

	postsByUser := make(map[string][]Post, len(ids))
	for _, id := range ids {
		postsByUser[id] = []Post{
			{ID: 1, Title: "First Post by " + id, UserID: id},
			{ID: 2, Title: "Second Post by " + id, UserID: id},
			{ID: 3, Title: "Third Post by " + id, UserID: id},
		}
	}

	return coalescer.LookupFunc[string, []Post](func(id string) ([]Post, bool) {
		if posts, ok := postsByUser[id]; ok {
			return posts, true
		}
		return []Post{}, true
	}), nil
}

func (s *Service) waterfallStep(ctx context.Context, step int, what string) error {
	s.logger.Info().
		Str("step", fmt.Sprintf("%d/5", step)).
		Msgf("waterfall: fetching %s", what)
	return s.sleep(ctx, waterfallDelay)
}

func (s *Service) getInitialData(ctx context.Context, _ struct{}) (InitialData, error) {
	if err := s.waterfallStep(ctx, 1, "initial data"); err != nil {
		return InitialData{}, err
	}
	return InitialData{OrganizationID: "org-123", Name: "Acme Corp"}, nil
}

func (s *Service) getOrganizationDetails(ctx context.Context, in OrganizationInput) (Organization, error) {
	if err := s.waterfallStep(ctx, 2, "organization details"); err != nil {
		return Organization{}, err
	}
	return Organization{
		ID:               in.OrgID,
		Name:             "Acme Corporation",
		PrimaryProjectID: "project-456",
	}, nil
}

func (s *Service) getProjectInfo(ctx context.Context, in ProjectInput) (Project, error) {
	if err := s.waterfallStep(ctx, 3, "project info"); err != nil {
		return Project{}, err
	}
	return Project{
		ID:         in.ProjectID,
		Name:       "Website Redesign",
		LeadUserID: "user-789",
	}, nil
}

func (s *Service) getUserProfile(ctx context.Context, in UserProfileInput) (UserProfile, error) {
	if err := s.waterfallStep(ctx, 4, "user profile"); err != nil {
		return UserProfile{}, err
	}
	return UserProfile{
		ID:     in.UserID,
		Name:   "Jane Smith",
		TeamID: "team-101",
	}, nil
}

func (s *Service) getTeamMembers(ctx context.Context, in TeamInput) ([]TeamMember, error) {
	if err := s.waterfallStep(ctx, 5, "team members"); err != nil {
		return nil, err
	}
	return []TeamMember{
		{ID: "user-789", Name: "Jane Smith", Role: "Lead"},
		{ID: "user-790", Name: "John Doe", Role: "Developer"},
		{ID: "user-791", Name: "Alice Johnson", Role: "Designer"},
	}, nil
}
