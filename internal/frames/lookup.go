package frames

import (
	"errors"
	"fmt"
)

// ErrNoPath is returned by Lookup when the frames are not connected.
var ErrNoPath = errors.New("no transform path between frames")

// maxChainDepth bounds parent walks so a cyclic input cannot loop forever.
const maxChainDepth = 32

// Lookup resolves the transform mapping source coordinates into target
// coordinates through a set of parent→child transforms, such as the pair
// the node broadcasts.
func Lookup(chain []FrameTransform, target, source string) (Transform, error) {
	if target == source {
		return Identity(), nil
	}
	parents := make(map[string]FrameTransform, len(chain))
	for _, ft := range chain {
		parents[ft.Source] = ft
	}

	targetRoot, targetFromRoot, err := toRoot(parents, target)
	if err != nil {
		return Transform{}, err
	}
	sourceRoot, sourceFromRoot, err := toRoot(parents, source)
	if err != nil {
		return Transform{}, err
	}
	if targetRoot != sourceRoot {
		return Transform{}, fmt.Errorf("%s → %s: %w", source, target, ErrNoPath)
	}
	// root←target inverted, then root←source.
	return Compose(targetFromRoot.Inverse(), sourceFromRoot), nil
}

// toRoot walks parent links from frame and returns the root frame and the
// transform mapping frame coordinates into it.
func toRoot(parents map[string]FrameTransform, frame string) (string, Transform, error) {
	acc := Identity()
	cur := frame
	for depth := 0; depth < maxChainDepth; depth++ {
		ft, ok := parents[cur]
		if !ok {
			return cur, acc, nil
		}
		acc = Compose(ft.Transform, acc)
		cur = ft.Target
	}
	return "", Transform{}, fmt.Errorf("frame %q: chain deeper than %d", frame, maxChainDepth)
}
