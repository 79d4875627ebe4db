package builder

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// ValidateImageRef checks that ref parses as a container image reference.
// Image-type builds (engineless apps) skip the builder pod entirely, so
// this is the only gate before the ref lands in a Deployment.
func ValidateImageRef(ref string) error {
	if _, err := name.ParseReference(ref); err != nil {
		return kerr.Wrap(kerr.ErrInvalid, "invalid image reference %q: %s", ref, err)
	}
	return nil
}

// RegisterImage finalizes an image-artifact build without launching a
// builder pod. Engineless apps have no source to build; the ref check
// above is the whole pipeline.
func (e *Executor) RegisterImage(ctx context.Context, buildProcessId string, image string, meta Metadata) (domain.Build, error) {
	if err := ValidateImageRef(image); err != nil {
		return domain.Build{}, err
	}
	bp, err := e.builds.GetBuildProcess(ctx, buildProcessId)
	if err != nil {
		return domain.Build{}, err
	}
	if bp.Status.Terminal() {
		return domain.Build{}, kerr.Wrap(kerr.ErrConflict, "build process %s is already %s", bp.Id, bp.Status)
	}
	return e.builds.Finalize(ctx, bp.Id, domain.Build{
		WlAppName:    bp.WlAppName,
		ArtifactType: domain.ArtifactImage,
		Image:        image,
		Branch:       meta.Branch,
		Revision:     meta.Revision,
		Procfile:     meta.Procfile,
		EnvVars:      meta.EnvVars,
	})
}
