package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/soil-agent/internal/clients"
	"github.com/fieldsense/soil-agent/internal/models"
	"github.com/fieldsense/soil-agent/pkg/identity"
)

// MockGatewayAPI is a mock implementation of clients.GatewayAPI.
type MockGatewayAPI struct {
	mock.Mock
}

func (m *MockGatewayAPI) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGatewayAPI) Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error) {
	args := m.Called(ctx, payload)
	if resp, ok := args.Get(0).(*models.RegistrationResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGatewayAPI) Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error) {
	args := m.Called(ctx, machineID)
	if resp, ok := args.Get(0).(*models.AssignmentResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGatewayAPI) SendReading(ctx context.Context, reading models.Reading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

// MockRegistryAPI is a mock implementation of clients.RegistryAPI.
type MockRegistryAPI struct {
	mock.Mock
}

func (m *MockRegistryAPI) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRegistryAPI) Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error) {
	args := m.Called(ctx, payload)
	if resp, ok := args.Get(0).(*models.RegistrationResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRegistryAPI) Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error) {
	args := m.Called(ctx, machineID)
	if resp, ok := args.Get(0).(*models.AssignmentResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeDeviceInfo is an in-memory identity.DeviceInfoInterface.
type fakeDeviceInfo struct {
	machineID  string
	registered bool
	markErr    error
	markCalls  int
}

func (d *fakeDeviceInfo) Load() error          { return nil }
func (d *fakeDeviceInfo) GetMachineID() string { return d.machineID }
func (d *fakeDeviceInfo) GetIdentity() *identity.Identity {
	return &identity.Identity{
		MachineID:       d.machineID,
		SensorType:      "Soil_Monitor_V1",
		FirmwareVersion: "1.0.0",
		Registered:      d.registered,
	}
}
func (d *fakeDeviceInfo) IsRegistered() bool { return d.registered }
func (d *fakeDeviceInfo) MarkRegistered() error {
	d.markCalls++
	if d.markErr != nil {
		return d.markErr
	}
	d.registered = true
	return nil
}

func newAssignmentService(device *fakeDeviceInfo, gateway clients.GatewayAPI, registry clients.RegistryAPI) *AssignmentService {
	return NewAssignmentService(time.Hour, device, gateway, registry, 19, zerolog.Nop())
}

func TestAssignmentService_Refresh_RegistersThenLooksUp(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "278514163572141"}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	gateway.On("Register", mock.Anything, mock.MatchedBy(func(p models.RegistrationPayload) bool {
		return p.MachineID == "278514163572141" && p.ResponseLength == 19
	})).Return(&models.RegistrationResponse{Message: "registered"}, nil)
	gateway.On("Assignment", mock.Anything, "278514163572141").
		Return(&models.AssignmentResponse{Assigned: true, FarmID: "farm-7", ZoneCode: "Z3"}, nil)

	svc := newAssignmentService(device, gateway, registry)
	assignment, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, assignment.Assigned)
	assert.Equal(t, "farm-7", assignment.FarmID)
	assert.Equal(t, "Z3", assignment.ZoneCode)
	assert.False(t, assignment.FetchedAt.IsZero())
	assert.True(t, device.registered)
	assert.Equal(t, assignment, svc.Current())
	gateway.AssertExpectations(t)
	registry.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestAssignmentService_Refresh_SkipsRegistrationWhenAlreadyRegistered(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1", registered: true}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	gateway.On("Assignment", mock.Anything, "m1").
		Return(&models.AssignmentResponse{Assigned: false}, nil)

	svc := newAssignmentService(device, gateway, registry)
	assignment, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, assignment.Assigned)
	assert.Equal(t, 0, device.markCalls)
	gateway.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestAssignmentService_Refresh_FallsBackToRegistry(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1"}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	down := errors.New("gateway unreachable")
	gateway.On("Register", mock.Anything, mock.Anything).Return(nil, down)
	gateway.On("Assignment", mock.Anything, "m1").Return(nil, down)
	registry.On("Register", mock.Anything, mock.Anything).
		Return(&models.RegistrationResponse{Message: "registered"}, nil)
	registry.On("Assignment", mock.Anything, "m1").
		Return(&models.AssignmentResponse{Assigned: true, FarmID: "farm-1", ZoneCode: "A1"}, nil)

	svc := newAssignmentService(device, gateway, registry)
	assignment, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, assignment.Assigned)
	assert.Equal(t, "farm-1", assignment.FarmID)
	assert.True(t, device.registered)
	registry.AssertExpectations(t)
}

func TestAssignmentService_Refresh_UnknownSensorResolvesUnassigned(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1", registered: true}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	gateway.On("Assignment", mock.Anything, "m1").Return(nil, errors.New("gateway unreachable"))
	registry.On("Assignment", mock.Anything, "m1").Return(nil, clients.ErrSensorNotFound)

	svc := newAssignmentService(device, gateway, registry)
	assignment, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, assignment.Assigned)
	assert.Empty(t, assignment.FarmID)
}

func TestAssignmentService_Refresh_KeepsCacheOnLookupFailure(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1", registered: true}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	gateway.On("Assignment", mock.Anything, "m1").
		Return(&models.AssignmentResponse{Assigned: true, FarmID: "farm-7", ZoneCode: "Z3"}, nil).Once()

	svc := newAssignmentService(device, gateway, registry)
	first, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, first.Assigned)

	down := errors.New("gateway unreachable")
	gateway.On("Assignment", mock.Anything, "m1").Return(nil, down)
	registry.On("Assignment", mock.Anything, "m1").Return(nil, errors.New("registry unreachable"))

	got, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookup)
	assert.Equal(t, first, got, "failed refresh must return the cached assignment")
	assert.Equal(t, first, svc.Current())
}

func TestAssignmentService_Refresh_RegistrationFailureReported(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1"}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	down := errors.New("registration rejected")
	gateway.On("Register", mock.Anything, mock.Anything).Return(nil, down)
	registry.On("Register", mock.Anything, mock.Anything).Return(nil, down)

	svc := newAssignmentService(device, gateway, registry)
	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.False(t, device.registered)
	gateway.AssertNotCalled(t, "Assignment", mock.Anything, mock.Anything)
}

func TestAssignmentService_StartStop(t *testing.T) {
	device := &fakeDeviceInfo{machineID: "m1", registered: true}
	gateway := new(MockGatewayAPI)
	registry := new(MockRegistryAPI)

	gateway.On("Assignment", mock.Anything, "m1").
		Return(&models.AssignmentResponse{Assigned: true, FarmID: "farm-7", ZoneCode: "Z3"}, nil)

	svc := newAssignmentService(device, gateway, registry)
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "second start must fail")

	assert.Eventually(t, func() bool {
		return svc.Current().Assigned
	}, time.Second, 10*time.Millisecond, "initial refresh should populate the cache")

	require.NoError(t, svc.Stop())
	assert.Error(t, svc.Stop(), "second stop must fail")
}
