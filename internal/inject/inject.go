package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unicode"

	"github.com/atotto/clipboard"
	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/micmonay/keybd_event"
)

// Clipboard is the system clipboard
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// ErrUntypeable is returned by Keyboard.Type for text the virtual keyboard
// has no key for. Nothing is typed in that case.
var ErrUntypeable = errors.New("text cannot be typed")

// Keyboard drives the virtual keyboard
type Keyboard interface {
	// Paste sends the platform paste shortcut
	Paste() error
	// Type sends text as individual key presses
	Type(text string) error
}

// Injector places text at the cursor, through the clipboard or by typing it
type Injector struct {
	cfg       config.InjectConfig
	clipboard Clipboard
	keyboard  Keyboard
	sleep     func(time.Duration)

	// Pastes are serialised so restores never interleave.
	mutex sync.Mutex
}

// New creates an injector using the system clipboard and keyboard
func New(cfg config.InjectConfig) *Injector {
	return NewWith(cfg, systemClipboard{}, &systemKeyboard{})
}

// NewWith creates an injector with explicit clipboard and keyboard
func NewWith(cfg config.InjectConfig, cb Clipboard, kb Keyboard) *Injector {
	return &Injector{cfg: cfg, clipboard: cb, keyboard: kb, sleep: time.Sleep}
}

// Inject copies text to the clipboard and, when enabled, pastes it into the
// focused window and restores the previous clipboard content. In type mode
// the text is typed instead and the clipboard is left alone, falling back to
// pasting when the text has characters the keyboard cannot produce.
func (i *Injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.cfg.Paste && i.cfg.Mode == "type" {
		i.sleep(i.cfg.PasteDelay)
		err := i.keyboard.Type(text)
		if err == nil {
			slog.Info("Text typed", "chars", len(text))
			return nil
		}
		if !errors.Is(err, ErrUntypeable) {
			return fmt.Errorf("failed to type text: %w", err)
		}
		slog.Debug("Text has characters without a key, pasting instead", "error", err)
	}

	var original string
	restore := i.cfg.Paste && i.cfg.RestoreClipboard
	if restore {
		var err error
		if original, err = i.clipboard.ReadAll(); err != nil {
			slog.Debug("Cannot read clipboard, it will not be restored", "error", err)
			restore = false
		}
	}

	if err := i.clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	if !i.cfg.Paste {
		slog.Info("Text copied to clipboard", "chars", len(text))
		return nil
	}

	i.sleep(i.cfg.PasteDelay)
	if err := i.keyboard.Paste(); err != nil {
		return fmt.Errorf("failed to send paste shortcut (text left on clipboard): %w", err)
	}
	slog.Info("Text inserted", "chars", len(text))

	if restore {
		// The target application reads the clipboard asynchronously
		i.sleep(i.cfg.PasteDelay)
		if err := i.clipboard.WriteAll(original); err != nil {
			slog.Warn("Failed to restore clipboard", "error", err)
		}
	}
	return nil
}

// Selection returns the current clipboard text, used as context for the responder
func (i *Injector) Selection() (string, error) {
	text, err := i.clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return text, nil
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// systemKeyboard creates the virtual keyboard on first use.
type systemKeyboard struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (k *systemKeyboard) init() {
	k.kb, k.err = keybd_event.NewKeyBonding()
	if k.err != nil {
		k.err = fmt.Errorf("failed to create virtual keyboard: %w", k.err)
		return
	}
	// uinput devices need a moment before the first event is delivered
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
}

// typeKeys maps the characters every keybd_event platform has a key for
var typeKeys = map[rune]int{
	'a': keybd_event.VK_A, 'b': keybd_event.VK_B, 'c': keybd_event.VK_C, 'd': keybd_event.VK_D,
	'e': keybd_event.VK_E, 'f': keybd_event.VK_F, 'g': keybd_event.VK_G, 'h': keybd_event.VK_H,
	'i': keybd_event.VK_I, 'j': keybd_event.VK_J, 'k': keybd_event.VK_K, 'l': keybd_event.VK_L,
	'm': keybd_event.VK_M, 'n': keybd_event.VK_N, 'o': keybd_event.VK_O, 'p': keybd_event.VK_P,
	'q': keybd_event.VK_Q, 'r': keybd_event.VK_R, 's': keybd_event.VK_S, 't': keybd_event.VK_T,
	'u': keybd_event.VK_U, 'v': keybd_event.VK_V, 'w': keybd_event.VK_W, 'x': keybd_event.VK_X,
	'y': keybd_event.VK_Y, 'z': keybd_event.VK_Z,
	'0': keybd_event.VK_0, '1': keybd_event.VK_1, '2': keybd_event.VK_2, '3': keybd_event.VK_3,
	'4': keybd_event.VK_4, '5': keybd_event.VK_5, '6': keybd_event.VK_6, '7': keybd_event.VK_7,
	'8': keybd_event.VK_8, '9': keybd_event.VK_9,
	' ': keybd_event.VK_SPACE, '\n': keybd_event.VK_ENTER,
	'-': keybd_event.VK_MINUS, '=': keybd_event.VK_EQUAL, ';': keybd_event.VK_SEMICOLON,
	',': keybd_event.VK_COMMA, '/': keybd_event.VK_SLASH,
}

type keyStroke struct {
	key   int
	shift bool
}

// keyStrokes translates text into key presses, uppercase letters using shift
func keyStrokes(text string) ([]keyStroke, error) {
	strokes := make([]keyStroke, 0, len(text))
	for _, r := range text {
		lower := unicode.ToLower(r)
		key, ok := typeKeys[lower]
		if !ok {
			return nil, fmt.Errorf("%w: no key for %q", ErrUntypeable, r)
		}
		strokes = append(strokes, keyStroke{key: key, shift: r != lower})
	}
	return strokes, nil
}

func (k *systemKeyboard) Type(text string) error {
	strokes, err := keyStrokes(text)
	if err != nil {
		return err
	}
	k.once.Do(k.init)
	if k.err != nil {
		return k.err
	}

	for _, s := range strokes {
		k.kb.Clear()
		k.kb.HasSHIFT(s.shift)
		k.kb.SetKeys(s.key)
		if err := k.kb.Launching(); err != nil {
			return err
		}
	}
	return nil
}

func (k *systemKeyboard) Paste() error {
	k.once.Do(k.init)
	if k.err != nil {
		return k.err
	}

	k.kb.Clear()
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true)
	} else {
		k.kb.HasCTRL(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	return k.kb.Launching()
}
