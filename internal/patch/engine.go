package patch

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/logging"
)

// Engine applies patch plans to images.
type Engine struct {
	bases  map[string]uint32
	logger *zap.Logger
}

// NewEngine creates an engine. bases maps base marker names ("FSP-T") to the
// load address chosen for that component.
func NewEngine(bases map[string]uint32, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{bases: bases, logger: logger}
}

// snapshot records the original value of every byte a plan writes, keyed by
// image offset. It lives for one Apply call.
type snapshot map[uint32]byte

func (s snapshot) save(img *Image, off uint32, width int) {
	for i := uint32(0); i < uint32(width); i++ {
		if _, ok := s[off+i]; !ok {
			s[off+i] = img.Data[off+i]
		}
	}
}

func (s snapshot) restore(img *Image, off uint32, width int) int {
	restored := 0
	for i := uint32(0); i < uint32(width); i++ {
		if b, ok := s[off+i]; ok {
			img.Data[off+i] = b
			restored++
		}
	}
	return restored
}

func (s snapshot) rollback(img *Image) {
	for off, b := range s {
		img.Data[off] = b
	}
}

// Apply runs every operation of plan against img in declared order and
// returns the number of distinct bytes written.
//
// Plans are all-or-nothing: on the first failure every byte the plan wrote
// is put back, the image is marked aborted so it cannot be saved, and a
// *PatchError describing the failing operation is returned. The mark stays
// for the life of the Image; later plans do not clear it.
func (e *Engine) Apply(plan *Plan, table Symbols, img *Image) (int, error) {
	res := &Resolver{Table: table, Image: img, Bases: e.bases}
	snap := make(snapshot)

	e.logger.Info("applying patch plan",
		zap.String("plan", plan.Name),
		zap.Int("operations", plan.Len()),
		zap.Int("image_size", img.Len()),
		logging.Hex("image_base", img.Base),
	)

	for i, op := range plan.Operations {
		if err := e.applyOne(plan.Name, i, op, res, snap); err != nil {
			snap.rollback(img)
			img.aborted = true
			e.logger.Error("patch plan failed, image rolled back",
				zap.String("plan", plan.Name),
				zap.Int("op", i+1),
				zap.String("line", op.Line),
				zap.Error(err),
			)
			return 0, &PatchError{Plan: plan.Name, Index: i, Line: op.Line, Comment: op.Comment, Err: err}
		}
	}

	e.logger.Info("patch plan applied",
		zap.String("plan", plan.Name),
		zap.Int("bytes_touched", len(snap)),
	)
	return len(snap), nil
}

func (e *Engine) applyOne(name string, i int, op Operation, res *Resolver, snap snapshot) error {
	width := op.Width
	if width == 0 {
		width = DefaultWidth
	}

	off, err := res.Offset(op.Address)
	if err != nil {
		return err
	}
	if err := res.Image.check("write", off, width); err != nil {
		return err
	}

	if op.Restore {
		n := snap.restore(res.Image, off, width)
		e.logger.Debug("restored original bytes",
			zap.String("plan", name),
			zap.Int("op", i+1),
			logging.Hex("offset", off),
			zap.Int("restored", n),
		)
		return nil
	}

	v, err := res.Resolve(op.Value)
	if err != nil {
		return err
	}

	old := hex.EncodeToString(res.Image.Data[off : int(off)+width])
	snap.save(res.Image, off, width)
	if err := res.Image.Write(off, width, v); err != nil {
		return err
	}
	e.logger.Debug("patch write",
		zap.String("plan", name),
		zap.Int("op", i+1),
		logging.Hex("offset", off),
		zap.Int("width", width),
		logging.Hex("value", v),
		zap.String("replaced", old),
		zap.String("comment", op.Comment),
	)
	return nil
}
