package state

import (
	"errors"
	"sync"

	"github.com/wfunc/guessroulette/network"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, condition func() bool) error
	Update()
	HandleMessage(msg network.Message) error
}

// State is one node of the machine. OnEnter and OnExit must not change
// state themselves; transitions are made from OnUpdate or HandleMessage.
type State interface {
	OnEnter()
	OnExit()
	OnUpdate()
	GetID() string
	HandleMessage(msg network.Message) error
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 基础状态机实现
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

// ChangeState checks the transition guard, then runs OnExit and OnEnter.
// Callbacks run without the machine lock so they may query it.
func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.RLock()
	current := sm.currentState
	condition := sm.transitions[current.GetID()][newState.GetID()]
	sm.mutex.RUnlock()

	if condition != nil && !condition() {
		return ErrTransitionNotAllowed
	}

	sm.mutex.Lock()
	if sm.currentState != current {
		// someone else moved the machine while the guard ran
		sm.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	sm.currentState = newState
	sm.mutex.Unlock()

	current.OnExit()
	newState.OnEnter()
	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// Update ticks the current state.
func (sm *BaseStateMachine) Update() {
	sm.GetCurrentState().OnUpdate()
}

func (sm *BaseStateMachine) HandleMessage(msg network.Message) error {
	return sm.GetCurrentState().HandleMessage(msg)
}

// 基础状态, 具体状态覆盖需要的方法
type BaseState struct {
	ID string
}

func (s *BaseState) GetID() string {
	return s.ID
}

func (s *BaseState) OnEnter() {}

func (s *BaseState) OnExit() {}

func (s *BaseState) OnUpdate() {}

func (s *BaseState) HandleMessage(msg network.Message) error {
	return nil
}
