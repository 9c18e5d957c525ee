// Command swarmd is the demo harness: it stands up a small loopback swarm
// of named peers, wires every subsystem per peer, and feeds them the
// contents of two JSON files (spec.md §1 explicitly keeps JSON parsing out
// of scope for the protocol itself, so this is stdlib encoding/json glue
// around it, not a module).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/the-swarm-net/swarmnode/internal/consensus"
	"github.com/the-swarm-net/swarmnode/internal/datamemory"
	"github.com/the-swarm-net/swarmnode/internal/instructionmemory"
	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/orchestrator"
	"github.com/the-swarm-net/swarmnode/internal/processor"
	"github.com/the-swarm-net/swarmnode/internal/swarmnet"
	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/userio"
)

var log = logging.Logger("swarmd")

// Config wires every tunable the harness cares about, the way the teacher
// threads a single dagstore.Config literal through NewDAGStore.
type Config struct {
	Peers       []types.PeerID
	QueueDepth  int
	GossipEvery time.Duration
	DataFile    string
	ProgramFile string
}

// demoData is the shape of the --data JSON file: a flat map of DataId to
// the byte values to Put.
type demoData map[string][]byte

// demoInstruction mirrors types.Instruction in a JSON-friendly shape.
type demoInstruction struct {
	Op     string `json:"op"`
	First  uint64 `json:"first"`
	Second uint64 `json:"second,omitempty"`
	Result uint64 `json:"result"`
}

func loadDemoInputs(dataPath, programPath string) (demoData, types.Instructions, error) {
	var data demoData
	if dataPath != "" {
		raw, err := os.ReadFile(dataPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading data file: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, nil, fmt.Errorf("parsing data file: %w", err)
		}
	}

	var program types.Instructions
	if programPath != "" {
		raw, err := os.ReadFile(programPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading program file: %w", err)
		}
		var decoded []demoInstruction
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, nil, fmt.Errorf("parsing program file: %w", err)
		}
		for _, d := range decoded {
			instr, err := decodeInstruction(d)
			if err != nil {
				return nil, nil, err
			}
			program = append(program, instr)
		}
	}
	return data, program, nil
}

func decodeInstruction(d demoInstruction) (types.Instruction, error) {
	switch d.Op {
	case "plus":
		return types.Plus(types.DataId(d.First), types.DataId(d.Second), types.DataId(d.Result)), nil
	case "sub":
		return types.Sub(types.DataId(d.First), types.DataId(d.Second), types.DataId(d.Result)), nil
	case "inv":
		return types.Inv(types.DataId(d.First), types.DataId(d.Result)), nil
	case "nand":
		return types.Nand(types.DataId(d.First), types.DataId(d.Second), types.DataId(d.Result)), nil
	case "nor":
		return types.Nor(types.DataId(d.First), types.DataId(d.Second), types.DataId(d.Result)), nil
	default:
		return types.Instruction{}, fmt.Errorf("unknown instruction op %q", d.Op)
	}
}

// node bundles one peer's subsystems plus the user-facing Client end the
// harness drives directly.
type node struct {
	peer types.PeerID
	orch *orchestrator.Orchestrator
	user *module.Client[userio.InEvent, userio.OutEvent, userio.State]
}

func buildNode(ctx context.Context, self types.PeerID, net swarmnet.Transport, cfg Config) *node {
	consensusPair := module.New[consensus.InEvent, consensus.OutEvent, consensus.ModuleState](ctx, cfg.QueueDepth, consensus.ModuleState{})
	go consensus.Run(ctx, self, consensusPair.Server)

	store := datamemory.NewStore(self)
	dataMemPair := module.New[datamemory.InEvent, datamemory.OutEvent, datamemory.ModuleState](ctx, cfg.QueueDepth, datamemory.ModuleState{})
	go datamemory.Run(ctx, store, dataMemPair.Server)

	instrMemPair := module.New[instructionmemory.InEvent, instructionmemory.OutEvent, instructionmemory.ModuleState](ctx, cfg.QueueDepth, instructionmemory.ModuleState{})
	go instructionmemory.Run(ctx, instrMemPair.Server)

	processorPair := module.New[processor.InEvent, processor.OutEvent, processor.ReadinessState](ctx, cfg.QueueDepth, processor.Ready)
	go processor.Run(ctx, store, processorPair.Server)

	userPair := module.New[userio.InEvent, userio.OutEvent, userio.State](ctx, cfg.QueueDepth, userio.State{})

	orch := orchestrator.New(orchestrator.Deps{
		Self:        self,
		Net:         net,
		Consensus:   consensusPair.Client,
		DataMemory:  dataMemPair.Client,
		InstrMemory: instrMemPair.Client,
		Processor:   processorPair.Client,
		User:        userPair.Server,
		GossipEvery: cfg.GossipEvery,
		Seed:        int64(len(self)) + 1,
	})

	return &node{peer: self, orch: orch, user: userPair.Client}
}

func main() {
	dataFile := flag.String("data", "", "JSON file of DataId -> byte values to Put at startup")
	programFile := flag.String("program", "", "JSON file of instructions to schedule at startup")
	flag.Parse()

	cfg := Config{
		Peers:       []types.PeerID{"alice", "bob", "carol"},
		QueueDepth:  64,
		GossipEvery: 50 * time.Millisecond,
		DataFile:    *dataFile,
		ProgramFile: *programFile,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network := swarmnet.NewLoopbackNetwork(cfg.Peers, cfg.QueueDepth)
	nodes := make(map[types.PeerID]*node, len(cfg.Peers))
	for _, p := range cfg.Peers {
		nodes[p] = buildNode(ctx, p, network[p], cfg)
	}
	for _, n := range nodes {
		go func(n *node) {
			if err := n.orch.Run(ctx); err != nil {
				log.Warnw("orchestrator stopped", "peer", n.peer, "error", err)
			}
		}(n)
	}

	proposer := nodes[cfg.Peers[0]]
	for _, p := range cfg.Peers[1:] {
		_ = network[cfg.Peers[0]].Dial(ctx, p)
	}
	proposer.user.Input <- userio.InEvent{InitializeStorage: true}

	data, program, err := loadDemoInputs(cfg.DataFile, cfg.ProgramFile)
	if err != nil {
		log.Fatalw("loading demo inputs failed", "error", err)
	}
	time.Sleep(200 * time.Millisecond)

	for idStr, value := range data {
		var id uint64
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			log.Warnw("skipping malformed data id", "id", idStr, "error", err)
			continue
		}
		proposer.user.Input <- userio.InEvent{Put: &userio.PutRequest{Data: types.DataId(id), Value: value}}
	}
	if len(program) > 0 {
		proposer.user.Input <- userio.InEvent{ScheduleProgram: &program}
	}

	time.Sleep(500 * time.Millisecond)
drain:
	for {
		select {
		case out := <-proposer.user.Output:
			log.Infow("response", "event", out)
		default:
			break drain
		}
	}
}
