package graphapi

import "strconv"

// Builder turns Requests into Graphs for one Preset. Build is pure: it
// touches neither network nor filesystem, and equal requests yield equal graphs.
type Builder struct {
	preset Preset
}

func NewBuilder(preset Preset) *Builder {
	return &Builder{preset: preset}
}

// Preset returns the preset the builder was created with.
func (b *Builder) Preset() Preset {
	return b.preset
}

// nodeChain hands out ids "1", "2", ... in construction order, so every
// producer gets a smaller id than its consumers.
type nodeChain struct {
	nodes []Node
}

func (c *nodeChain) add(kind NodeKind, params map[string]interface{}, inputs map[string]OutputRef) NodeID {
	id := NodeID(strconv.Itoa(len(c.nodes) + 1))
	c.nodes = append(c.nodes, Node{ID: id, Kind: kind, Params: params, Inputs: inputs})
	return id
}

// Build validates the request against the preset and constructs the
// checkpoint → adapters → encoders → latent → sampler → decoder → writer chain.
func (b *Builder) Build(req Request) (*Graph, error) {
	if err := b.preset.Check(); err != nil {
		return nil, err
	}
	if err := b.preset.checkRequest(req); err != nil {
		return nil, err
	}

	c := &nodeChain{}
	checkpoint := c.add(CheckpointLoader, map[string]interface{}{
		"ckpt_name": b.preset.Checkpoint,
	}, nil)

	// adapters compose sequentially, each reading model and clip from the stage before it
	stage := checkpoint
	for i, a := range b.preset.Adapters {
		w := req.AdapterWeights[i]
		stage = c.add(AdapterLoader, map[string]interface{}{
			"lora_name":      a.File,
			"strength_model": w,
			"strength_clip":  w,
		}, map[string]OutputRef{
			"model": {Node: stage, Slot: SlotModel},
			"clip":  {Node: stage, Slot: SlotClip},
		})
	}

	positive := c.add(TextEncoder, map[string]interface{}{
		"text": req.Prompt,
	}, map[string]OutputRef{
		"clip": {Node: stage, Slot: SlotClip},
	})
	negative := c.add(TextEncoder, map[string]interface{}{
		"text": req.NegativePrompt,
	}, map[string]OutputRef{
		"clip": {Node: stage, Slot: SlotClip},
	})

	latent := c.add(LatentAllocator, map[string]interface{}{
		"width":      req.Width,
		"height":     req.Height,
		"batch_size": 1,
	}, nil)

	sampler := c.add(Sampler, map[string]interface{}{
		"seed":         req.SeedOrFallback(),
		"steps":        req.Steps,
		"cfg":          req.CFG,
		"sampler_name": b.preset.SamplerName,
		"scheduler":    b.preset.Scheduler,
		"denoise":      b.preset.Denoise,
	}, map[string]OutputRef{
		"model":        {Node: stage, Slot: SlotModel},
		"positive":     {Node: positive, Slot: SlotConditioning},
		"negative":     {Node: negative, Slot: SlotConditioning},
		"latent_image": {Node: latent, Slot: SlotLatent},
	})

	decoded := c.add(Decoder, nil, map[string]OutputRef{
		"samples": {Node: sampler, Slot: SlotLatent},
		"vae":     {Node: checkpoint, Slot: SlotVAE},
	})

	c.add(ArtifactWriter, map[string]interface{}{
		"filename_prefix": b.preset.FilenamePrefix,
	}, map[string]OutputRef{
		"images": {Node: decoded, Slot: SlotImage},
	})

	return newGraph(c.nodes)
}
