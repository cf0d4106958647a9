package middleware

import (
	"context"
	"strconv"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// Stage names a pipeline checkpoint. It doubles as the stage label on
// authorization metrics, so values are stable.
type Stage string

const (
	StageIdentity  Stage = "identity"
	StageScope     Stage = "scope"
	StageAuthorize Stage = "authorize"
)

// State tracks one pipeline run through its state machine. Authorized and
// Rejected are terminal; the others mark how far a request got.
type State string

const (
	StateStart         State = "start"
	StateAuthenticated State = "authenticated"
	StateScopeVerified State = "scope_verified"
	StateAuthorized    State = "authorized"
	StateRejected      State = "rejected"
)

// RouteMetadata declares what a route demands from its callers: whether the
// path targets a single organization, and which permissions or role names
// the handler requires. Metadata is attached per route when the router is
// built and may be overridden at runtime through a PolicyStore.
type RouteMetadata struct {
	Name         string            `json:"name" yaml:"name"`
	OrgScoped    bool              `json:"org_scoped,omitempty" yaml:"org_scoped,omitempty"`
	Requirements rbac.Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// IdentityResolver is the pipeline's view of token resolution.
// *auth.Resolver satisfies it.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*auth.Identity, error)
}

// DecisionAuthorizer evaluates route requirements against an identity.
// *rbac.Authorizer satisfies it.
type DecisionAuthorizer interface {
	Authorize(ctx context.Context, identity *auth.Identity, req rbac.Requirements) rbac.Decision
}

// Outcome is what one pipeline run produces: the resolved identity (nil when
// resolution itself failed), the decision, the stage that settled it, and
// the terminal state.
type Outcome struct {
	Identity *auth.Identity
	Decision rbac.Decision
	Stage    Stage
	State    State
}

// Pipeline runs the authorization sequence for one request in fixed order:
// resolve the identity, verify the organization scope when the route is
// org-scoped, then evaluate permission and role requirements when the route
// declares any. The first rejection ends the run; later stages never
// execute and cause no side effects.
//
// A single Pipeline serves all requests concurrently. It holds no
// per-request state; the permission cache behind the authorizer is the only
// shared mutable state it touches.
type Pipeline struct {
	resolver   IdentityResolver
	authorizer DecisionAuthorizer
	stages     []pipelineStage

	// scopeCheck is swappable so tests can count scope invocations.
	scopeCheck func(identity *auth.Identity, targetOrgID int64) rbac.Reason

	metrics *observability.Metrics
	log     *observability.Logger
}

// pipelineStage is one checkpoint in the fixed sequence. Adding a stage
// means appending an entry here; AuthorizeRequest and its callers are
// untouched.
type pipelineStage struct {
	name    Stage
	applies func(route RouteMetadata) bool
	run     func(ctx context.Context, s *pipelineRun) (rbac.Decision, bool)
}

// pipelineRun is per-request scratch state, built fresh on every call and
// discarded with it.
type pipelineRun struct {
	token     string
	pathOrgID *int64
	route     RouteMetadata
	identity  *auth.Identity
	state     State
	stage     Stage
}

// NewPipeline wires the pipeline over a resolver and an authorizer. metrics
// may be nil; log may be nil.
func NewPipeline(resolver IdentityResolver, authorizer DecisionAuthorizer, metrics *observability.Metrics, log *observability.Logger) *Pipeline {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	p := &Pipeline{
		resolver:   resolver,
		authorizer: authorizer,
		scopeCheck: VerifyOrganizationScope,
		metrics:    metrics,
		log:        log,
	}
	p.stages = []pipelineStage{
		{name: StageIdentity, applies: func(RouteMetadata) bool { return true }, run: p.runIdentity},
		{name: StageScope, applies: func(r RouteMetadata) bool { return r.OrgScoped }, run: p.runScope},
		{name: StageAuthorize, applies: func(r RouteMetadata) bool { return !r.Requirements.IsPublic() }, run: p.runAuthorize},
	}
	return p
}

// AuthorizeRequest runs the pipeline once for a presented token. pathOrgID
// is the organization the request path targets, nil on routes that do not
// name one.
//
// The request context is checked between stages so a cancelled request
// stops issuing store I/O at the next checkpoint. Nothing is rolled back;
// no stage has side effects on tenant data.
func (p *Pipeline) AuthorizeRequest(ctx context.Context, token string, pathOrgID *int64, route RouteMetadata) Outcome {
	s := &pipelineRun{
		token:     token,
		pathOrgID: pathOrgID,
		route:     route,
		state:     StateStart,
		stage:     StageIdentity,
	}

	for _, st := range p.stages {
		if !st.applies(route) {
			continue
		}
		if ctx.Err() != nil {
			s.state = StateRejected
			return p.finish(s, st.name, rbac.Deny(rbac.ReasonStoreUnavailable))
		}
		s.stage = st.name
		decision, done := st.run(ctx, s)
		if done {
			if !decision.Allowed {
				s.state = StateRejected
			}
			return p.finish(s, st.name, decision)
		}
	}

	// Every applicable stage passed without settling the request: the route
	// demanded nothing beyond a valid identity.
	s.state = StateAuthorized
	return p.finish(s, s.stage, rbac.Allow(rbac.ReasonPublicRoute))
}

func (p *Pipeline) runIdentity(ctx context.Context, s *pipelineRun) (rbac.Decision, bool) {
	identity, err := p.resolver.Resolve(ctx, s.token)
	if err != nil {
		return rbac.Deny(rbac.ReasonFromError(err)), true
	}
	s.identity = identity
	s.state = StateAuthenticated
	return rbac.Decision{}, false
}

func (p *Pipeline) runScope(_ context.Context, s *pipelineRun) (rbac.Decision, bool) {
	if s.pathOrgID == nil {
		// An org-scoped route whose target never parsed cannot be checked
		// against the binding.
		return rbac.Deny(rbac.ReasonOrganizationRequired), true
	}
	if reason := p.scopeCheck(s.identity, *s.pathOrgID); reason != rbac.ReasonNone {
		return rbac.Deny(reason), true
	}
	s.state = StateScopeVerified
	return rbac.Decision{}, false
}

func (p *Pipeline) runAuthorize(ctx context.Context, s *pipelineRun) (rbac.Decision, bool) {
	decision := p.authorizer.Authorize(ctx, s.identity, s.route.Requirements)
	if decision.Allowed {
		s.state = StateAuthorized
	}
	return decision, true
}

func (p *Pipeline) finish(s *pipelineRun, stage Stage, decision rbac.Decision) Outcome {
	if p.metrics != nil {
		p.metrics.RecordDecision(string(stage), string(decision.Reason), decision.Allowed)
	}
	if !decision.Allowed {
		fields := map[string]interface{}{
			"route":  s.route.Name,
			"stage":  string(stage),
			"reason": string(decision.Reason),
		}
		if s.identity != nil {
			fields["user_id"] = strconv.FormatInt(s.identity.UserID, 10)
		}
		p.log.WithFields(fields).Debug("authorization denied")
	}
	return Outcome{Identity: s.identity, Decision: decision, Stage: stage, State: s.state}
}
