package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/logic"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/storage"
)

const usage = `usage: btpeer <command> [flags] <args>

commands:
  decode <bencoded value>
  info <file.torrent>
  peers <file.torrent>
  handshake <file.torrent> [<host:port>]
  download_piece -o <path> <file.torrent> <index> [-peer host:port]
  download -o <path> <file.torrent> [-peer host:port]

flags may appear anywhere after the command.
`

var errUsage = errors.New("invalid arguments")

type options struct {
	peerID       string
	blockSize    int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	attempts     int
	batch        bool
	noBitfield   bool
	logPath      string
	logLevel     string
	peer         string
	output       string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		os.Exit(1)
	}
}

func newFlagSet(command string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&o.peerID, "peer-id", "", "Specify the 20 bytes peer id, random when empty")
	fs.IntVar(&o.blockSize, "block-size", logic.DefaultBlockSize, "Specify the block request length")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Specify the peer connect timeout")
	fs.DurationVar(&o.readTimeout, "read-timeout", 30*time.Second, "Specify the peer read timeout")
	fs.DurationVar(&o.writeTimeout, "write-timeout", 30*time.Second, "Specify the peer write timeout")
	fs.IntVar(&o.attempts, "attempts", 1, "Specify how many peers a piece is tried against")
	fs.BoolVar(&o.batch, "batch", false, "Send every block request of a piece at once")
	fs.BoolVar(&o.noBitfield, "no-bitfield", false, "Do not wait for a bitfield after the handshake")
	fs.StringVar(&o.logPath, "log", "log.txt", "Specify the log file, empty to disable logging")
	fs.StringVar(&o.logLevel, "log-level", "error", "Specify the log level")
	fs.StringVar(&o.peer, "peer", "", "Use this host:port instead of asking the trackers")
	fs.StringVar(&o.output, "o", "", "Specify the output path")
	return fs
}

func run(command string, args []string, stdout io.Writer) error {
	var o options
	fs := newFlagSet(command, &o)
	args, err := parseArgs(fs, args)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	if command == "decode" {
		if len(args) != 1 {
			return fmt.Errorf("%w: decode takes one value", errUsage)
		}
		return decode(args[0], stdout)
	}

	if len(args) < 1 {
		return fmt.Errorf("%w: %s needs a torrent file", errUsage, command)
	}
	meta, err := readMetafile(args[0])
	if err != nil {
		return err
	}

	logger, closeLog, err := o.logger()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := o.config()
	if err != nil {
		return err
	}
	discoverer, err := o.discoverer(cfg, logger)
	if err != nil {
		return err
	}
	downloader := logic.NewDownloader(discoverer, cfg, logger)

	switch command {
	case "info":
		return info(meta, stdout)
	case "peers":
		peers, err := discoverer.GetPeers(meta)
		if err != nil {
			return err
		}
		for _, peer := range peers {
			fmt.Fprintln(stdout, peer.Addr)
		}
		return nil
	case "handshake":
		var addr models.Addr
		if len(args) > 1 {
			addr, err = models.ParseAddr(args[1])
		} else {
			addr, err = firstPeer(discoverer, meta)
		}
		if err != nil {
			return err
		}
		h, err := downloader.Handshake(meta, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Peer ID: %x\n", h.PeerID)
		return nil
	case "download_piece":
		if len(args) != 2 || o.output == "" {
			return fmt.Errorf("%w: download_piece -o <path> <file.torrent> <index>", errUsage)
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: piece index %q", errUsage, args[1])
		}
		data, err := downloader.FetchPiece(meta, index)
		if err != nil {
			logger.Error("failed to download piece", slog.Int("piece", index), slog.Any("error", err))
			return err
		}
		if err := os.WriteFile(o.output, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Piece %d downloaded to %s.\n", index, o.output)
		return nil
	case "download":
		if o.output == "" {
			return fmt.Errorf("%w: download -o <path> <file.torrent>", errUsage)
		}
		store, err := storage.Open(o.output, meta.Info)
		if err != nil {
			return err
		}
		err = downloader.WithProgress(os.Stderr).Download(meta, store)
		if closeErr := store.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			logger.Error("failed to download torrent", slog.Any("error", err))
			return err
		}
		fmt.Fprintf(stdout, "Downloaded %s to %s.\n", args[0], o.output)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

// parseArgs accepts flags before, between and after the positional
// arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func decode(value string, stdout io.Writer) error {
	decoded, err := decoder.DecodeValue(value)
	if err != nil {
		return err
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

func info(meta models.Metafile, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Tracker URL: %s\n", meta.Announce)
	fmt.Fprintf(stdout, "Length: %d\n", meta.Info.Length)
	fmt.Fprintf(stdout, "Info Hash: %s\n", meta.InfoHash)
	fmt.Fprintf(stdout, "Piece Length: %d\n", meta.Info.PieceLength)
	fmt.Fprintln(stdout, "Piece Hashes:")
	for _, hash := range meta.Info.PiecesHashes {
		fmt.Fprintln(stdout, hash)
	}
	return nil
}

func readMetafile(path string) (models.Metafile, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Metafile{}, err
	}
	defer f.Close()
	return decoder.NewDecoder().Decode(f)
}

func firstPeer(discoverer logic.PeerDiscoverer, meta models.Metafile) (models.Addr, error) {
	peers, err := discoverer.GetPeers(meta)
	if err != nil {
		return models.Addr{}, err
	}
	if len(peers) == 0 {
		return models.Addr{}, logic.ErrNoPeersAvailable
	}
	return peers[0].Addr, nil
}

func (o options) config() (logic.Config, error) {
	cfg := logic.DefaultConfig()
	if o.peerID != "" {
		peerID, err := logic.ParsePeerID(o.peerID)
		if err != nil {
			return cfg, err
		}
		cfg.PeerID = peerID
	}
	cfg.BlockSize = o.blockSize
	cfg.DialTimeout = o.dialTimeout
	cfg.ReadTimeout = o.readTimeout
	cfg.WriteTimeout = o.writeTimeout
	cfg.MaxPieceAttempts = o.attempts
	cfg.BatchRequests = o.batch
	cfg.WaitBitfield = !o.noBitfield
	return cfg, cfg.Validate()
}

func (o options) discoverer(cfg logic.Config, logger *slog.Logger) (logic.PeerDiscoverer, error) {
	if o.peer == "" {
		return logic.NewTrackerDiscoverer(cfg.PeerID, logger), nil
	}
	addr, err := models.ParseAddr(o.peer)
	if err != nil {
		return nil, err
	}
	return logic.StaticPeers{addr}, nil
}

// logger writes JSON logs to the log file.
func (o options) logger() (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if o.logPath == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	logOut, err := os.Create(o.logPath)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	return logger, func() { logOut.Close() }, nil
}
