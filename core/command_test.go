package core

import (
	"strings"
	"testing"

	"hpmon/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	id := registry.Register("test_command", "arg=%u", func(data *[]byte) error {
		called = true
		return nil
	})
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}
	if cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Signature = %q", cmd.Signature())
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}
	if again := registry.Register("command2", "other=%c", nil); again != id2 {
		t.Errorf("re-registering returned %d, want %d", again, id2)
	}
	if registry.Count() != 3 {
		t.Errorf("Count = %d", registry.Count())
	}
}

func TestCommandRegistryResponses(t *testing.T) {
	registry := NewCommandRegistry()

	respID := registry.Register("hpm_state", "enabled=%c count=%c status=%c", nil)
	cmdID := registry.Register("hpm_enable", "", func(data *[]byte) error { return nil })

	var data []byte
	if err := registry.Dispatch(respID, &data); err == nil {
		t.Error("dispatching a response should fail")
	}

	commands, responses := registry.GetCommandsAndResponses()
	if commands["hpm_enable"] != int(cmdID) || len(commands) != 1 {
		t.Errorf("commands = %v", commands)
	}
	if responses["hpm_state enabled=%c count=%c status=%c"] != int(respID) || len(responses) != 1 {
		t.Errorf("responses = %v", responses)
	}

	dict := registry.GetDictionary()
	if !strings.HasPrefix(dict, "hpm_state enabled=%c") || !strings.Contains(dict, "\nhpm_enable\n") {
		t.Errorf("dictionary:\n%s", dict)
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var counter, mask uint32
	id := registry.Register("hpm_set_event", "counter=%c mask=%u", func(data *[]byte) error {
		var err error
		if counter, err = protocol.DecodeVLQUint(data); err != nil {
			return err
		}
		mask, err = protocol.DecodeVLQUint(data)
		return err
	})

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 3)
	protocol.EncodeVLQUint(output, 0x80000102)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if counter != 3 || mask != 0x80000102 {
		t.Errorf("decoded counter=%d mask=%#x", counter, mask)
	}

	short := []byte{3}
	if err := registry.Dispatch(id, &short); err == nil {
		t.Error("expected error for truncated arguments")
	}
}

func TestGlobalRegistry(t *testing.T) {
	ResetCore()
	t.Cleanup(ResetCore)

	RegisterCommand("global_test", "arg=%u", func(data *[]byte) error {
		return nil
	})
	if GetCommandCount() != 1 {
		t.Errorf("GetCommandCount = %d", GetCommandCount())
	}
	if dict := GetGlobalRegistry().GetDictionary(); dict != "global_test arg=%u\n" {
		t.Errorf("Global registry dictionary = %q", dict)
	}
}
