//go:build vulkan

package vulkan

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	vk "github.com/vulkan-go/vulkan"
)

// queueRingSize is how many command buffers each Queue pre-allocates and
// hands out round-robin. A full lap (cursor wrapping back to slot 0)
// triggers a WaitIdle before any slot in the new lap is reset, so reusing
// a ring slot never resets a command buffer still pending on the GPU.
const queueRingSize = submitBatchSize * 2

// Queue wraps one VkQueue plus the command pool it allocates buffers from.
// Submission is serialized by mu: the Vulkan spec forbids submitting to
// the same VkQueue from two threads concurrently, and the three-queue
// pipelined scheduler (matmul.go) can legitimately have multiple
// goroutines racing to use tr0q, tr1q, and compq independently.
type Queue struct {
	d      *device
	handle vk.Queue
	pool   vk.CommandPool
	family int
	index  int
	name   string

	mu     sync.Mutex
	ring   []vk.CommandBuffer
	cursor int
}

func newQueue(d *device, family, index int, name string) *Queue {
	var handle vk.Queue
	vk.GetDeviceQueue(d.handle, uint32(family), uint32(index), &handle)

	poolInfo := &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(family),
	}
	var pool vk.CommandPool
	if ret := vk.CreateCommandPool(d.handle, poolInfo, nil, &pool); ret != vk.Success {
		d.log.Error("create command pool failed", "queue", name, "result", ret)
	}

	ring := make([]vk.CommandBuffer, queueRingSize)
	ringInfo := &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(queueRingSize),
	}
	if ret := vk.AllocateCommandBuffers(d.handle, ringInfo, ring); ret != vk.Success {
		d.log.Error("allocate command buffer ring failed", "queue", name, "result", ret)
	}

	return &Queue{d: d, handle: handle, pool: pool, family: family, index: index, name: name, ring: ring}
}

// Sequence is a named group of command buffers submitted together, tagged
// with a UUID so log lines from different pipeline stages of the same
// logical operation can be correlated.
type Sequence struct {
	ID       uuid.UUID
	Commands []vk.CommandBuffer
	signals  []vk.Semaphore
	waits    []vk.Semaphore
	waitMask []vk.PipelineStageFlags
	fence    vk.Fence
}

// NewSequence hands out the next command buffer in q's ring and returns a
// Sequence ready for recording. Every time the cursor wraps back to slot 0
// it blocks on WaitIdle first, so the buffers being reused are guaranteed
// to have retired rather than still be pending on the GPU.
func (q *Queue) NewSequence() (*Sequence, error) {
	q.mu.Lock()
	slot := q.cursor % len(q.ring)
	wrapped := q.cursor > 0 && slot == 0
	q.cursor++
	q.mu.Unlock()

	if wrapped {
		if err := q.WaitIdle(); err != nil {
			return nil, err
		}
	}

	cmd := q.ring[slot]
	if ret := vk.ResetCommandBuffer(cmd, 0); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: reset command buffer on %s: result %d", q.name, ret)
	}

	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if ret := vk.BeginCommandBuffer(cmd, beginInfo); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: begin command buffer on %s: result %d", q.name, ret)
	}

	return &Sequence{ID: uuid.New(), Commands: []vk.CommandBuffer{cmd}}, nil
}

// WaitIdle blocks until every submission q has issued has retired. This is
// the explicit end-of-operation synchronization point each top-level
// dispatch (mulMat, mulMatVec, mulElementwise) calls before returning, and
// what makes ring-slot command buffer reuse safe.
func (q *Queue) WaitIdle() error {
	if ret := vk.QueueWaitIdle(q.handle); ret != vk.Success {
		return submitError(q.name, "wait idle", ret)
	}
	return nil
}

// submitError classifies a non-success VkResult from a queue operation,
// surfacing ErrDeviceLost distinctly since it means the device handle
// itself is dead rather than this one call having failed.
func submitError(queue, op string, ret vk.Result) error {
	if ret == vk.ErrorDeviceLost {
		return fmt.Errorf("vulkan: %s on %s: %w", op, queue, ErrDeviceLost)
	}
	return fmt.Errorf("vulkan: %s on %s: result %d: %w", op, queue, ret, ErrSubmitFailed)
}

// WaitOn records a semaphore this sequence's submission must wait on
// before executing the given pipeline stage, used to chain a transfer
// queue's ownership-release semaphore into a compute queue's acquire.
func (s *Sequence) WaitOn(sem vk.Semaphore, stage vk.PipelineStageFlags) {
	s.waits = append(s.waits, sem)
	s.waitMask = append(s.waitMask, stage)
}

// SignalOn records a semaphore this sequence's submission will signal on
// completion.
func (s *Sequence) SignalOn(sem vk.Semaphore) {
	s.signals = append(s.signals, sem)
}

// submitBatchSize mirrors ggml_vk_submit's VK_SUBMIT_BATCH constant: the
// host enqueues up to this many command buffers before issuing a single
// batched vkQueueSubmit, trading submission latency for throughput.
const submitBatchSize = 3

// Submit ends recording and submits seq to q, blocking the caller's
// goroutine only on q.mu (the submit call itself is asynchronous; callers
// that need completion pass a non-nil fence and wait on it).
func (q *Queue) Submit(seq *Sequence, fence vk.Fence) error {
	if ret := vk.EndCommandBuffer(seq.Commands[0]); ret != vk.Success {
		return submitError(q.name, "end command buffer", ret)
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   uint32(len(seq.Commands)),
		PCommandBuffers:      seq.Commands,
		SignalSemaphoreCount: uint32(len(seq.signals)),
		PSignalSemaphores:    seq.signals,
		WaitSemaphoreCount:   uint32(len(seq.waits)),
		PWaitSemaphores:      seq.waits,
		PWaitDstStageMask:    seq.waitMask,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ret := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submit}, fence); ret != vk.Success {
		return submitError(q.name, fmt.Sprintf("submit (seq %s)", seq.ID), ret)
	}
	return nil
}

// SubmitBatch submits multiple sequences to q in a single vkQueueSubmit
// call, chunked to submitBatchSize.
func (q *Queue) SubmitBatch(seqs []*Sequence, fence vk.Fence) error {
	for start := 0; start < len(seqs); start += submitBatchSize {
		end := start + submitBatchSize
		if end > len(seqs) {
			end = len(seqs)
		}
		chunk := seqs[start:end]

		submits := make([]vk.SubmitInfo, len(chunk))
		for i, seq := range chunk {
			if ret := vk.EndCommandBuffer(seq.Commands[0]); ret != vk.Success {
				return submitError(q.name, "end command buffer", ret)
			}
			submits[i] = vk.SubmitInfo{
				SType:                vk.StructureTypeSubmitInfo,
				CommandBufferCount:   uint32(len(seq.Commands)),
				PCommandBuffers:      seq.Commands,
				SignalSemaphoreCount: uint32(len(seq.signals)),
				PSignalSemaphores:    seq.signals,
				WaitSemaphoreCount:   uint32(len(seq.waits)),
				PWaitSemaphores:      seq.waits,
				PWaitDstStageMask:    seq.waitMask,
			}
		}

		var f vk.Fence
		if end == len(seqs) {
			f = fence
		}

		q.mu.Lock()
		ret := vk.QueueSubmit(q.handle, uint32(len(submits)), submits, f)
		q.mu.Unlock()
		if ret != vk.Success {
			return submitError(q.name, "submit batch", ret)
		}
	}
	return nil
}

func (q *Queue) destroy() {
	if q.pool != nil {
		vk.DestroyCommandPool(q.d.handle, q.pool, nil)
	}
}
