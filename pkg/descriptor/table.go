// Package descriptor holds the immutable stage descriptor table and the
// static numeric tables the parameter builder looks values up in.
package descriptor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/user/framebrc/pkg/ports"
)

// ErrInvalidCombination is returned for a (codec, stage, picture type, tier) key with no descriptor.
var ErrInvalidCombination = errors.New("descriptor: invalid stage/picture-type combination")

// Key selects one descriptor.
type Key struct {
	Codec   ports.Codec
	Stage   ports.StageKind
	Picture ports.PictureType
	Tier    ports.QualityTier
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Codec, k.Stage, k.Picture, k.Tier)
}

// Descriptor describes the shape of one stage variant.
type Descriptor struct {
	Key       Key
	Kernel    ports.KernelID
	Inputs    []ports.BufferRole
	Outputs   []ports.BufferRole
	ParamSize int
}

// Requires reports whether role is a required input or output.
func (d Descriptor) Requires(role ports.BufferRole) bool {
	for _, r := range d.Inputs {
		if r == role {
			return true
		}
	}
	for _, r := range d.Outputs {
		if r == role {
			return true
		}
	}
	return false
}

// Table is the read-only descriptor table of an encoder instance.
type Table struct {
	entries map[Key]Descriptor
}

// Lookup returns a copy of the descriptor for key. The table itself is never
// modified.
func (t *Table) Lookup(key Key) (Descriptor, error) {
	d, ok := t.entries[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrInvalidCombination, key)
	}
	d.Inputs = slices.Clone(d.Inputs)
	d.Outputs = slices.Clone(d.Outputs)
	return d, nil
}

// Len returns the number of descriptors.
func (t *Table) Len() int {
	return len(t.entries)
}

// shape is the codec and tier independent part of a descriptor.
type shape struct {
	stage     ports.StageKind
	pictures  []ports.PictureType
	inputs    []ports.BufferRole
	refInputs []ports.BufferRole // added for P and B pictures
	outputs   []ports.BufferRole
	size      int
}

var (
	allPictures = []ports.PictureType{ports.PictureI, ports.PictureP, ports.PictureB}
	interOnly   = []ports.PictureType{ports.PictureP, ports.PictureB}
	intraOnly   = []ports.PictureType{ports.PictureI}
	allTiers    = []ports.QualityTier{ports.TierQuality, ports.TierNormal, ports.TierSpeed}
)

func avcShapes() []shape {
	return []shape{
		{stage: ports.StageScaling, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleSource}, outputs: []ports.BufferRole{ports.RoleDownscaled4x}, size: 64},
		{stage: ports.StageMotionSearch, pictures: interOnly,
			inputs: []ports.BufferRole{ports.RoleDownscaled4x}, refInputs: []ports.BufferRole{ports.RoleReference4x},
			outputs: []ports.BufferRole{ports.RoleMotionVectors, ports.RoleDistortion}, size: 256},
		{stage: ports.StageStaticFrameCheck, pictures: interOnly,
			inputs: []ports.BufferRole{ports.RoleMotionVectors, ports.RoleDistortion}, outputs: []ports.BufferRole{ports.RoleStaticFrame}, size: 64},
		{stage: ports.StageRateControlInit, pictures: allPictures,
			outputs: []ports.BufferRole{ports.RoleBRCHistory, ports.RoleBRCConstData}, size: 192},
		{stage: ports.StageIntraDistortion, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleDownscaled4x}, outputs: []ports.BufferRole{ports.RoleIntraDistortion}, size: 128},
		{stage: ports.StageMacroblockEncode, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleSource}, refInputs: []ports.BufferRole{ports.RoleReference, ports.RoleMotionVectors},
			outputs: []ports.BufferRole{ports.RoleReconstruction, ports.RoleEncodeOutput}, size: 896},
		{stage: ports.StageRateControlUpdate, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleEncodeOutput, ports.RoleBRCConstData}, outputs: []ports.BufferRole{ports.RoleBRCHistory}, size: 256},
		{stage: ports.StageMacroblockRateControl, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleEncodeOutput, ports.RoleBRCHistory}, outputs: []ports.BufferRole{ports.RoleMBQPMap}, size: 64},
		{stage: ports.StageWeightedPrediction, pictures: interOnly,
			refInputs: []ports.BufferRole{ports.RoleReference}, outputs: []ports.BufferRole{ports.RoleWeightedReference}, size: 64},
		{stage: ports.StageSlicePacketize, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleEncodeOutput, ports.RoleReconstruction}, size: 128},
	}
}

// MPEG-2 has no static frame check, macroblock BRC or weighted prediction,
// and initializes rate control on I pictures only.
func mpeg2Shapes() []shape {
	return []shape{
		{stage: ports.StageScaling, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleSource}, outputs: []ports.BufferRole{ports.RoleDownscaled4x}, size: 64},
		{stage: ports.StageMotionSearch, pictures: interOnly,
			inputs: []ports.BufferRole{ports.RoleDownscaled4x}, refInputs: []ports.BufferRole{ports.RoleReference4x},
			outputs: []ports.BufferRole{ports.RoleMotionVectors, ports.RoleDistortion}, size: 192},
		{stage: ports.StageRateControlInit, pictures: intraOnly,
			outputs: []ports.BufferRole{ports.RoleBRCHistory, ports.RoleBRCConstData}, size: 128},
		{stage: ports.StageIntraDistortion, pictures: intraOnly,
			inputs: []ports.BufferRole{ports.RoleDownscaled4x}, outputs: []ports.BufferRole{ports.RoleIntraDistortion}, size: 128},
		{stage: ports.StageMacroblockEncode, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleSource}, refInputs: []ports.BufferRole{ports.RoleReference, ports.RoleMotionVectors},
			outputs: []ports.BufferRole{ports.RoleReconstruction, ports.RoleEncodeOutput}, size: 512},
		{stage: ports.StageRateControlUpdate, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleEncodeOutput, ports.RoleBRCConstData}, outputs: []ports.BufferRole{ports.RoleBRCHistory}, size: 192},
		{stage: ports.StageSlicePacketize, pictures: allPictures,
			inputs: []ports.BufferRole{ports.RoleEncodeOutput, ports.RoleReconstruction}, size: 96},
	}
}

// NewTable builds the descriptor table for every supported codec.
func NewTable() *Table {
	t := &Table{entries: make(map[Key]Descriptor)}
	t.add(ports.CodecAVC, avcShapes())
	t.add(ports.CodecMPEG2, mpeg2Shapes())
	return t
}

func (t *Table) add(codec ports.Codec, shapes []shape) {
	for _, s := range shapes {
		for _, pic := range s.pictures {
			for _, tier := range allTiers {
				key := Key{Codec: codec, Stage: s.stage, Picture: pic, Tier: tier}
				inputs := append([]ports.BufferRole(nil), s.inputs...)
				if pic != ports.PictureI {
					inputs = append(inputs, s.refInputs...)
				}
				t.entries[key] = Descriptor{
					Key:       key,
					Kernel:    kernelID(key),
					Inputs:    inputs,
					Outputs:   append([]ports.BufferRole(nil), s.outputs...),
					ParamSize: s.size,
				}
			}
		}
	}
}

func kernelID(k Key) ports.KernelID {
	return ports.KernelID(fmt.Sprintf("%s.%s.%s.%s", k.Codec, k.Stage, k.Picture, k.Tier))
}
