package graph

import (
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
	emath "github.com/spaghettifunk/cascade/engine/math"
)

type FramebufferBinding struct {
	Target      Attachment
	Framebuffer Framebuffer
}

// FramebufferPool is the [pool][image] table of render-target bindings of a
// render phase. An on-screen phase has one pool over the swapchain images; a
// capture phase has one pool per captured target.
type FramebufferPool struct {
	pass          RenderPass
	pools         [][]FramebufferBinding
	minRenderArea Extent
}

func NewFramebufferPool(pass RenderPass, targets []TargetSource) (*FramebufferPool, error) {
	fp := &FramebufferPool{pass: pass}
	if err := fp.Rebuild(targets); err != nil {
		return nil, err
	}
	return fp, nil
}

// Rebuild destroys every framebuffer and recreates the whole table from the
// given targets. Pools are rebuilt together so indices never disagree; if any
// creation fails the pool is left empty.
func (fp *FramebufferPool) Rebuild(targets []TargetSource) error {
	if len(targets) == 0 {
		return fmt.Errorf("framebuffer pool needs at least one target: %w", core.ErrInvalidConfig)
	}
	fp.Destroy()

	pools := make([][]FramebufferBinding, len(targets))
	var minArea Extent
	for p, target := range targets {
		extent := target.Extent()
		if p == 0 {
			minArea = extent
		} else {
			minArea = Extent{
				Width:  emath.Min(minArea.Width, extent.Width),
				Height: emath.Min(minArea.Height, extent.Height),
			}
		}

		count := target.ImageCount()
		if count == 0 {
			destroyBindings(pools)
			return fmt.Errorf("target %d has no images: %w", p, core.ErrInvalidConfig)
		}
		pools[p] = make([]FramebufferBinding, count)
		for i := 0; i < count; i++ {
			color := target.ColorAttachment(i)
			attachments := []ImageView{color.View}
			if depth := target.DepthView(); depth != nil {
				attachments = append(attachments, depth)
			}
			fb, err := fp.pass.NewFramebuffer(attachments, extent)
			if err != nil {
				destroyBindings(pools)
				return fmt.Errorf("failed to create framebuffer [%d][%d]: %w", p, i, err)
			}
			pools[p][i] = FramebufferBinding{Target: color, Framebuffer: fb}
		}
	}

	fp.pools = pools
	fp.minRenderArea = minArea
	return nil
}

func (fp *FramebufferPool) PoolCount() int {
	return len(fp.pools)
}

func (fp *FramebufferPool) ImageCount(pool int) int {
	return len(fp.pools[pool])
}

// Binding returns the framebuffer for [pool][image]. Image indices wrap so that
// capture targets with fewer images than the swapchain stay addressable.
func (fp *FramebufferPool) Binding(pool int, image uint32) (FramebufferBinding, bool) {
	if pool < 0 || pool >= len(fp.pools) || len(fp.pools[pool]) == 0 {
		return FramebufferBinding{}, false
	}
	row := fp.pools[pool]
	return row[int(image)%len(row)], true
}

// MinRenderArea is the largest area every framebuffer in the pool can hold.
func (fp *FramebufferPool) MinRenderArea() Extent {
	return fp.minRenderArea
}

func (fp *FramebufferPool) Destroy() {
	destroyBindings(fp.pools)
	fp.pools = nil
	fp.minRenderArea = Extent{}
}

func destroyBindings(pools [][]FramebufferBinding) {
	for _, row := range pools {
		for i := range row {
			if row[i].Framebuffer != nil {
				row[i].Framebuffer.Destroy()
				row[i].Framebuffer = nil
			}
		}
	}
}
