// Package jobs builds and drives Kubernetes batch Jobs for the MediaCorr
// pipeline. A stage is submitted as a single named Job; sharded stages use
// Indexed completion mode so every replica learns its 0-based ordinal from
// JOB_COMPLETION_INDEX while the replica count is exported as
// JOB_COMPLETIONS. The orchestrator must keep the spec's Parallelism equal
// to the shard total handed to every worker; that coupling is by
// convention, not by a shared source of truth.
package jobs

import (
	"fmt"
	"sort"
	"strconv"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DataVolumeName is the shared volume every stage mounts read-write.
	DataVolumeName = "data-volume"

	// DataMountPath is where the shared volume appears inside every
	// replica. Stages read upstream artifacts and write their own under
	// this path; disjoint writes are guaranteed by filename convention
	// (shard index embedded in output names), not by locking.
	DataMountPath = "/app/data"

	envTotalShards = "JOB_COMPLETIONS"
)

// Spec declares one pipeline stage job. It is pure data; Build turns it
// into a batch/v1 Job after validation.
type Spec struct {
	// Name is the job name, unique per stage within the namespace. At most
	// one live job may exist under a name at any time.
	Name string

	// Image is the container image running the stage.
	Image string

	// Command is the container entrypoint.
	Command []string

	// Parallelism is the replica count and, equally, the shard total every
	// replica sees. 1 means an unsharded stage.
	Parallelism int

	// Env carries stage-specific parameters (date ranges, record limits)
	// as string values.
	Env map[string]string

	// ClaimName is the persistent volume claim providing the shared data
	// volume.
	ClaimName string
}

// Validate checks the spec before it is handed to the scheduler API.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.Image == "" {
		return fmt.Errorf("%w: image is required for job %q", ErrInvalidSpec, s.Name)
	}
	if len(s.Command) == 0 {
		return fmt.Errorf("%w: command is required for job %q", ErrInvalidSpec, s.Name)
	}
	if s.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism %d for job %q, must be >= 1", ErrInvalidSpec, s.Parallelism, s.Name)
	}
	if s.ClaimName == "" {
		return fmt.Errorf("%w: volume claim is required for job %q", ErrInvalidSpec, s.Name)
	}
	return nil
}

// Build constructs the batch/v1 Job for this spec.
func (s Spec) Build() (*batchv1.Job, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	parallelism := int32(s.Parallelism)
	backoffLimit := int32(1)
	completionMode := batchv1.IndexedCompletion

	env := []corev1.EnvVar{
		{Name: envTotalShards, Value: strconv.Itoa(s.Parallelism)},
	}
	for _, key := range sortedKeys(s.Env) {
		env = append(env, corev1.EnvVar{Name: key, Value: s.Env[key]})
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: s.Name},
		Spec: batchv1.JobSpec{
			Parallelism:    &parallelism,
			Completions:    &parallelism,
			CompletionMode: &completionMode,
			BackoffLimit:   &backoffLimit,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            s.Name,
							Image:           s.Image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Command:         s.Command,
							Env:             env,
							VolumeMounts: []corev1.VolumeMount{
								{Name: DataVolumeName, MountPath: DataMountPath},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: DataVolumeName,
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: s.ClaimName,
								},
							},
						},
					},
				},
			},
		},
	}

	return job, nil
}

// sortedKeys keeps the env var order stable so built manifests compare
// equal across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
