package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

// BuildSpec describes one image build.
type BuildSpec struct {
	Image      string // tag
	ContextDir string
	Dockerfile string // relative to ContextDir
}

// BuildImage builds and tags an image, blocking until the build finishes.
func (m *Manager) BuildImage(ctx context.Context, spec BuildSpec) error {
	start := time.Now()
	err := m.build(ctx, spec)
	if err != nil {
		metrics.RecordContainerOperation("build", "error")
		metrics.RecordErrorByComponent("container", "build")
		return fmt.Errorf("%w: %s: %w", ErrBuild, spec.Image, err)
	}
	metrics.RecordContainerOperation("build", "ok")
	m.logger.Info(ctx, "image built",
		logger.String("image", spec.Image),
		logger.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (m *Manager) build(ctx context.Context, spec BuildSpec) error {
	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("archive context %s: %w", spec.ContextDir, err)
	}
	defer buildCtx.Close()

	resp, err := m.engine.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{spec.Image},
		Dockerfile:  spec.Dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The build only fails through an error message inside the stream.
	return jsonmessage.DisplayJSONMessagesStream(resp.Body, m.buildOut, 0, false, nil)
}
