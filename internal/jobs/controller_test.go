package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testNamespace = "mediacorr"

func newTestController(objects ...runtime.Object) (*Controller, *fake.Clientset) {
	client := fake.NewSimpleClientset(objects...)
	c := NewController(client, testNamespace, zerolog.Nop()).
		WithPollInterval(5 * time.Millisecond)
	return c, client
}

func existingJob(name string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
	}
}

func TestController_Submit(t *testing.T) {
	t.Run("creates a fresh job", func(t *testing.T) {
		c, client := newTestController()

		outcome, err := c.Submit(context.Background(), validSpec())
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, outcome)

		job, err := client.BatchV1().Jobs(testNamespace).Get(context.Background(), "correlator-job", metav1.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, int32(4), *job.Spec.Parallelism)
	})

	t.Run("reports conflict without touching the existing job", func(t *testing.T) {
		c, client := newTestController(existingJob("correlator-job"))

		outcome, err := c.Submit(context.Background(), validSpec())
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyExists, outcome)

		// No delete was issued on the conflict path.
		for _, action := range client.Actions() {
			assert.NotEqual(t, "delete", action.GetVerb())
		}
	})

	t.Run("rejects invalid specs before any API call", func(t *testing.T) {
		c, client := newTestController()

		spec := validSpec()
		spec.Parallelism = 0
		_, err := c.Submit(context.Background(), spec)
		assert.ErrorIs(t, err, ErrInvalidSpec)
		assert.Empty(t, client.Actions())
	})
}

func TestController_SubmitWithRecovery(t *testing.T) {
	t.Run("creates when no conflict", func(t *testing.T) {
		c, _ := newTestController()

		outcome, err := c.SubmitWithRecovery(context.Background(), validSpec(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, outcome)
	})

	t.Run("deletes stale job and restarts", func(t *testing.T) {
		c, client := newTestController(existingJob("correlator-job"))

		// Make deletion asynchronous: the job stays visible for the first
		// few polls, as a foreground deletion would behave.
		var polls int
		client.PrependReactor("get", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
			polls++
			if polls <= 3 {
				return true, existingJob("correlator-job"), nil
			}
			return false, nil, nil
		})

		outcome, err := c.SubmitWithRecovery(context.Background(), validSpec(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRestarted, outcome)

		var deleted bool
		for _, action := range client.Actions() {
			if action.GetVerb() == "delete" {
				deleted = true
				deleteAction, ok := action.(k8stesting.DeleteAction)
				require.True(t, ok)
				require.NotNil(t, deleteAction.GetDeleteOptions().PropagationPolicy)
				assert.Equal(t, metav1.DeletePropagationForeground, *deleteAction.GetDeleteOptions().PropagationPolicy)
			}
		}
		assert.True(t, deleted, "expected a delete on the conflict path")
	})

	t.Run("fails closed when the stale job never disappears", func(t *testing.T) {
		c, client := newTestController(existingJob("correlator-job"))

		// Deletion that never takes effect: the tracker keeps the object.
		client.PrependReactor("delete", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, nil
		})

		outcome, err := c.SubmitWithRecovery(context.Background(), validSpec(), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrDeletionTimeout)
		assert.Empty(t, outcome)

		// Exactly one create attempt: no recreation after the timeout.
		var creates int
		for _, action := range client.Actions() {
			if action.GetVerb() == "create" {
				creates++
			}
		}
		assert.Equal(t, 1, creates)
	})

	t.Run("caller cancellation mid-recovery is not a deletion timeout", func(t *testing.T) {
		c, client := newTestController(existingJob("correlator-job"))

		// Deletion that never takes effect, so the absence poll spins
		// until the caller gives up.
		client.PrependReactor("delete", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.SubmitWithRecovery(ctx, validSpec(), time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrDeletionTimeout)
	})

	t.Run("propagates unexpected create faults unchanged", func(t *testing.T) {
		c, client := newTestController()
		client.PrependReactor("create", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, assert.AnError
		})

		_, err := c.SubmitWithRecovery(context.Background(), validSpec(), time.Second)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestController_Status(t *testing.T) {
	t.Run("returns replica counts", func(t *testing.T) {
		job := existingJob("filter-job")
		job.Status = batchv1.JobStatus{Active: 1, Succeeded: 2, Failed: 0}
		c, _ := newTestController(job)

		status, err := c.Status(context.Background(), "filter-job")
		require.NoError(t, err)
		assert.Equal(t, Status{Name: "filter-job", Active: 1, Succeeded: 2}, status)
		assert.Equal(t, PhaseRunning, status.Phase())
	})

	t.Run("unknown name", func(t *testing.T) {
		c, _ := newTestController()

		_, err := c.Status(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestController_AwaitCompletion(t *testing.T) {
	job := existingJob("sources-job")
	job.Status = batchv1.JobStatus{Active: 2}
	c, client := newTestController(job)

	var polls int
	client.PrependReactor("get", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		polls++
		done := existingJob("sources-job")
		if polls < 3 {
			done.Status = batchv1.JobStatus{Active: 2}
		} else {
			done.Status = batchv1.JobStatus{Succeeded: 2}
		}
		return true, done, nil
	})

	status, err := c.AwaitCompletion(context.Background(), "sources-job", 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, status.Phase())
}
