package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const defaultAPIURL = "http://localhost:3005"

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true).
			PaddingLeft(2)

	normalStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type step int

const (
	stepEnteringEmail step = iota
	stepEnteringPassword
	stepLoggingIn
	stepDetectingGPUs
	stepSelectingGPU
	stepEnteringWorkerID
	stepEnteringAddress
	stepRegistering
	stepComplete
)

type model struct {
	api          *apiClient
	step         step
	gpus         []gpu
	cursor       int
	selected     gpu
	email        string
	password     string
	token        string
	userAddress  string
	hostname     string
	workerID     string
	address      string
	currentInput string
	message      string
	result       *registerResult
	quitting     bool
}

type loginSuccessMsg struct{ res *loginResult }
type gpusDetectedMsg []gpu
type registeredMsg struct{ res *registerResult }
type errMsg struct {
	err  error
	back step
}

func (e errMsg) Error() string { return e.err.Error() }

func initialModel(api *apiClient, hostname string) model {
	return model{api: api, step: stepEnteringEmail, hostname: hostname}
}

func (m model) Init() tea.Cmd {
	return nil
}

func loginUser(api *apiClient, email, password string) tea.Cmd {
	return func() tea.Msg {
		res, err := api.login(email, password)
		if err != nil {
			return errMsg{err: fmt.Errorf("login failed: %w", err), back: stepEnteringEmail}
		}
		return loginSuccessMsg{res: res}
	}
}

func listGPUs() tea.Msg {
	gpus, err := detectGPUs()
	if err != nil || len(gpus) == 0 {
		// machines without nvidia-smi still register, with an unknown card
		return gpusDetectedMsg{{Model: "Unknown"}}
	}
	return gpusDetectedMsg(gpus)
}

func registerProvider(api *apiClient, token, workerID, address string, g gpu) tea.Cmd {
	return func() tea.Msg {
		res, err := api.quickRegister(token, workerID, address, g)
		if err != nil {
			return errMsg{err: fmt.Errorf("registration failed: %w", err), back: stepEnteringWorkerID}
		}
		return registeredMsg{res: res}
	}
}

func (m model) inputStep() bool {
	switch m.step {
	case stepEnteringEmail, stepEnteringPassword, stepEnteringWorkerID, stepEnteringAddress:
		return true
	}
	return false
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "q":
			if !m.inputStep() {
				m.quitting = true
				return m, tea.Quit
			}
			m.currentInput += "q"

		case "up", "k":
			if m.step == stepSelectingGPU && m.cursor > 0 {
				m.cursor--
			} else if m.inputStep() && msg.String() == "k" {
				m.currentInput += "k"
			}

		case "down", "j":
			if m.step == stepSelectingGPU && m.cursor < len(m.gpus)-1 {
				m.cursor++
			} else if m.inputStep() && msg.String() == "j" {
				m.currentInput += "j"
			}

		case "backspace":
			if len(m.currentInput) > 0 {
				m.currentInput = m.currentInput[:len(m.currentInput)-1]
			}

		case "enter":
			return m.submit()

		default:
			if m.inputStep() && msg.Type == tea.KeyRunes {
				m.currentInput += string(msg.Runes)
			}
		}

	case loginSuccessMsg:
		m.token = msg.res.Token
		m.userAddress = msg.res.User.QubicAddress
		m.step = stepDetectingGPUs
		m.message = successStyle.Render("✓ Logged in as " + m.email)
		return m, listGPUs

	case gpusDetectedMsg:
		m.gpus = []gpu(msg)
		m.cursor = 0
		if len(m.gpus) == 1 {
			m.selected = m.gpus[0]
			m.step = stepEnteringWorkerID
		} else {
			m.step = stepSelectingGPU
		}

	case registeredMsg:
		m.result = msg.res
		m.step = stepComplete
		if msg.res.IsNew {
			m.message = successStyle.Render("✓ Provider registered!")
		} else {
			m.message = successStyle.Render("✓ Provider updated!")
		}

	case errMsg:
		m.message = errorStyle.Render("✗ " + msg.err.Error())
		m.step = msg.back
		m.currentInput = ""
	}

	return m, nil
}

// submit advances the wizard when Enter is pressed.
func (m model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.currentInput)
	switch m.step {
	case stepEnteringEmail:
		if input != "" {
			m.email = input
			m.currentInput = ""
			m.step = stepEnteringPassword
		}

	case stepEnteringPassword:
		if m.currentInput != "" {
			m.password = m.currentInput
			m.currentInput = ""
			m.step = stepLoggingIn
			m.message = "Logging in..."
			return m, loginUser(m.api, m.email, m.password)
		}

	case stepSelectingGPU:
		if len(m.gpus) > 0 {
			m.selected = m.gpus[m.cursor]
			m.step = stepEnteringWorkerID
		}

	case stepEnteringWorkerID:
		if input == "" {
			input = m.hostname
		}
		if input != "" {
			m.workerID = input
			m.currentInput = ""
			m.step = stepEnteringAddress
		}

	case stepEnteringAddress:
		if input == "" {
			input = m.userAddress
		}
		if input != "" {
			m.address = input
			m.currentInput = ""
			m.step = stepRegistering
			m.message = "Registering provider..."
			return m, registerProvider(m.api, m.token, m.workerID, m.address, m.selected)
		}

	case stepComplete:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("QUBIX Provider Setup\n\n"))

	switch m.step {
	case stepEnteringEmail:
		if m.message != "" {
			s.WriteString(m.message + "\n\n")
		}
		s.WriteString(promptStyle.Render("Enter your email:\n"))
		s.WriteString(inputStyle.Render("> " + m.currentInput))
		s.WriteString("\n\nPress Enter\n")

	case stepEnteringPassword:
		s.WriteString(promptStyle.Render("Enter your password:\n"))
		s.WriteString(inputStyle.Render("> " + strings.Repeat("•", len(m.currentInput))))
		s.WriteString("\n\nPress Enter\n")

	case stepLoggingIn, stepRegistering:
		s.WriteString(m.message + "\n")

	case stepDetectingGPUs:
		if m.message != "" {
			s.WriteString(m.message + "\n\n")
		}
		s.WriteString("Detecting GPUs...\n")

	case stepSelectingGPU:
		s.WriteString(promptStyle.Render("Select the GPU to offer:\n\n"))
		for i, g := range m.gpus {
			cursor := " "
			style := normalStyle
			if m.cursor == i {
				cursor = ">"
				style = selectedStyle
			}
			s.WriteString(fmt.Sprintf("%s %s (%.0f GB)\n", cursor, style.Render(g.Model), g.VramGB))
		}
		s.WriteString("\nUse ↑/↓, Enter to select, q to quit\n")

	case stepEnteringWorkerID:
		if m.message != "" {
			s.WriteString(m.message + "\n\n")
		}
		s.WriteString(fmt.Sprintf("GPU: %s (%.0f GB)\n\n", m.selected.Model, m.selected.VramGB))
		s.WriteString(promptStyle.Render("Enter a worker id:\n"))
		s.WriteString(inputStyle.Render("> " + m.currentInput))
		if m.hostname != "" {
			s.WriteString(hintStyle.Render("\n(empty for " + m.hostname + ")"))
		}
		s.WriteString("\n\nPress Enter\n")

	case stepEnteringAddress:
		s.WriteString(promptStyle.Render("Enter the Qubic address for payouts:\n"))
		s.WriteString(inputStyle.Render("> " + m.currentInput))
		if m.userAddress != "" {
			s.WriteString(hintStyle.Render("\n(empty for your account wallet)"))
		}
		s.WriteString("\n\nPress Enter\n")

	case stepComplete:
		s.WriteString(m.message + "\n\n")
		if m.result != nil {
			s.WriteString(fmt.Sprintf("Provider ID: %s\nWorker ID:   %s\n", m.result.Provider.ID, m.result.Provider.WorkerID))
		}
		s.WriteString("\nPress Enter to exit\n")
	}

	return s.String()
}

func main() {
	baseURL := os.Getenv("QUBIX_API_URL")
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	hostname, _ := os.Hostname()

	p := tea.NewProgram(initialModel(newAPIClient(strings.TrimRight(baseURL, "/")), hostname))
	if _, err := p.Run(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
