package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
)

// DefaultDeletionPollInterval is how often the controller re-checks for a
// conflicting job's absence during recovery.
const DefaultDeletionPollInterval = 1 * time.Second

// Outcome tags the result of a submit operation. The expected conflict
// path is reported as a value, not an error; everything else propagates as
// a hard failure.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeRestarted     Outcome = "restarted"
)

// Controller drives the lifecycle of named batch jobs in a single
// namespace. It does not retry transient scheduler API faults; those
// propagate unchanged to the caller. A wrapping layer owns retry policy.
type Controller struct {
	client       kubernetes.Interface
	namespace    string
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewController builds a controller for the given namespace.
func NewController(client kubernetes.Interface, namespace string, log zerolog.Logger) *Controller {
	return &Controller{
		client:       client,
		namespace:    namespace,
		pollInterval: DefaultDeletionPollInterval,
		log:          log.With().Str("component", "job_controller").Logger(),
	}
}

// WithPollInterval overrides the deletion poll interval. Used by tests and
// by deployments with slow garbage collection.
func (c *Controller) WithPollInterval(interval time.Duration) *Controller {
	c.pollInterval = interval
	return c
}

// Submit attempts to create the job. A name conflict is reported as
// OutcomeAlreadyExists without error; the existing job is left untouched.
func (c *Controller) Submit(ctx context.Context, spec Spec) (Outcome, error) {
	job, err := spec.Build()
	if err != nil {
		return "", err
	}

	_, err = c.client.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		c.log.Info().Str("job", spec.Name).Msg("Job already exists, leaving it untouched")
		return OutcomeAlreadyExists, nil
	}
	if err != nil {
		return "", fmt.Errorf("creating job %q: %w", spec.Name, err)
	}

	c.log.Info().Str("job", spec.Name).Int("parallelism", spec.Parallelism).Msg("Job created")
	return OutcomeCreated, nil
}

// SubmitWithRecovery attempts to create the job and, on a name conflict,
// tears the existing job down and resubmits under the same name. Deletion
// uses foreground propagation so no stale replica can still be writing
// when the replacement starts. If the old job has not disappeared within
// deletionTimeout the controller returns ErrDeletionTimeout and does NOT
// recreate the job.
func (c *Controller) SubmitWithRecovery(ctx context.Context, spec Spec, deletionTimeout time.Duration) (Outcome, error) {
	job, err := spec.Build()
	if err != nil {
		return "", err
	}

	jobsAPI := c.client.BatchV1().Jobs(c.namespace)

	_, err = jobsAPI.Create(ctx, job, metav1.CreateOptions{})
	if err == nil {
		c.log.Info().Str("job", spec.Name).Int("parallelism", spec.Parallelism).Msg("Job created")
		return OutcomeCreated, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("creating job %q: %w", spec.Name, err)
	}

	c.log.Info().Str("job", spec.Name).Msg("Job name conflict, deleting stale job before resubmit")

	propagation := metav1.DeletePropagationForeground
	err = jobsAPI.Delete(ctx, spec.Name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return "", fmt.Errorf("deleting stale job %q: %w", spec.Name, err)
	}

	if err := c.waitForAbsence(ctx, spec.Name, deletionTimeout); err != nil {
		return "", err
	}

	_, err = jobsAPI.Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("recreating job %q: %w", spec.Name, err)
	}

	c.log.Info().Str("job", spec.Name).Msg("Job restarted under the same name")
	return OutcomeRestarted, nil
}

// Status reads the replica counts for a named job. An unknown name is
// reported as ErrJobNotFound.
func (c *Controller) Status(ctx context.Context, name string) (Status, error) {
	job, err := c.client.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return Status{}, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading job %q: %w", name, err)
	}

	return Status{
		Name:      job.Name,
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}, nil
}

// AwaitCompletion polls the job until it reaches a terminal phase or the
// timeout elapses, returning the final status. The orchestrator uses this
// to gate inter-stage ordering.
func (c *Controller) AwaitCompletion(ctx context.Context, name string, interval, timeout time.Duration) (Status, error) {
	var last Status
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		status, err := c.Status(ctx, name)
		if err != nil {
			return false, err
		}
		last = status
		return status.Phase().Terminal(), nil
	})
	if err != nil {
		return last, fmt.Errorf("waiting for job %q to complete: %w", name, err)
	}
	return last, nil
}

// waitForAbsence blocks until the named job is gone from the scheduler,
// polling at the controller's fixed interval.
func (c *Controller) waitForAbsence(ctx context.Context, name string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		_, err := c.client.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return false, nil
	})
	if wait.Interrupted(err) {
		// Interrupted also covers the caller's context being canceled;
		// that is not a deletion timeout and propagates as itself.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("polling for deletion of job %q: %w", name, ctxErr)
		}
		c.log.Error().Str("job", name).Dur("timeout", timeout).Msg("Stale job never disappeared, refusing to recreate")
		return fmt.Errorf("%w: job %q still present after %s", ErrDeletionTimeout, name, timeout)
	}
	if err != nil {
		return fmt.Errorf("polling for deletion of job %q: %w", name, err)
	}
	return nil
}
