// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/snapreport/internal/capture"
	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/report"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Capture() config.CaptureConfig {
	args := m.Called()
	return args.Get(0).(config.CaptureConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

func (m *MockConfig) Scripts() config.ScriptsConfig {
	args := m.Called()
	return args.Get(0).(config.ScriptsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserDriver(d string) {
	m.Called(d)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserConcurrency(n int) {
	m.Called(n)
}

func (m *MockConfig) SetReportRoot(root string) {
	m.Called(root)
}

// -- Element Mock --

// MockElement is a named element handle. Two handles are the same element
// only if they are the same pointer.
type MockElement struct {
	Name string
}

func (e *MockElement) Describe() string { return e.Name }

// -- Driver Mock --

// MockDriver mocks the driver.Driver capability facade.
type MockDriver struct {
	mock.Mock
}

var _ driver.Driver = (*MockDriver)(nil)

func (m *MockDriver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	a := m.Called(ctx, script, args)
	return a.Get(0), a.Error(1)
}

func (m *MockDriver) IsDisplayed(ctx context.Context, el driver.ElementRef) (bool, error) {
	a := m.Called(ctx, el)
	return a.Bool(0), a.Error(1)
}

func (m *MockDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	a := m.Called(ctx)
	var png []byte
	if v := a.Get(0); v != nil {
		png = v.([]byte)
	}
	return png, a.Error(1)
}

// -- Session Mock --

// MockSession mocks a driver.Session.
type MockSession struct {
	MockDriver
}

var _ driver.Session = (*MockSession)(nil)

func (m *MockSession) ID() string { return m.Called().String(0) }

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Find(ctx context.Context, selector string) (driver.ElementRef, error) {
	a := m.Called(ctx, selector)
	var el driver.ElementRef
	if v := a.Get(0); v != nil {
		el = v.(driver.ElementRef)
	}
	return el, a.Error(1)
}

func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Browser Mock --

// MockBrowser mocks a driver.Browser.
type MockBrowser struct {
	mock.Mock
}

var _ driver.Browser = (*MockBrowser)(nil)

func (m *MockBrowser) NewSession(ctx context.Context) (driver.Session, error) {
	a := m.Called(ctx)
	var s driver.Session
	if v := a.Get(0); v != nil {
		s = v.(driver.Session)
	}
	return s, a.Error(1)
}

func (m *MockBrowser) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Report Mocks --

// MockSink mocks a report.Sink.
type MockSink struct {
	mock.Mock
}

var _ report.Sink = (*MockSink)(nil)

func (m *MockSink) Attach(ctx context.Context, a report.Attachment) error {
	return m.Called(ctx, a).Error(0)
}

// MockCapturer mocks a report.Capturer.
type MockCapturer struct {
	mock.Mock
}

var _ report.Capturer = (*MockCapturer)(nil)

func (m *MockCapturer) Take(ctx context.Context, name string, el driver.ElementRef, highlight bool) (*capture.Shot, error) {
	a := m.Called(ctx, name, el, highlight)
	var shot *capture.Shot
	if v := a.Get(0); v != nil {
		shot = v.(*capture.Shot)
	}
	return shot, a.Error(1)
}
