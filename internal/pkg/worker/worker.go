package worker

import (
	"context"
	"log"
	"time"

	"kin_marketplace/internal/pkg/payment"
)

// 异步支付调用池
// 订单提交成功后入队，由 worker 调用支付微服务；调用失败只重试和记录，
// 订单的完成/失败始终由 webhook 决定，这里不改订单状态

// TaskKind 支付任务类型
type TaskKind string

const (
	TaskPay      TaskKind = "pay"       // earn 打款
	TaskSubmitTx TaskKind = "submit_tx" // spend 提交已签名交易
)

// PaymentTask 待执行的支付调用
type PaymentTask struct {
	Kind     TaskKind
	Pay      payment.PayRequest
	SubmitTx payment.SubmitTransactionRequest
	Retry    int // 重试次数
}

func (t PaymentTask) orderID() string {
	if t.Kind == TaskPay {
		return t.Pay.ID
	}
	return t.SubmitTx.ID
}

// Pool 支付任务池
type Pool struct {
	TaskQueue  chan PaymentTask
	RetryQueue chan PaymentTask
	Client     payment.Client
	WorkerNum  int
	MaxRetry   int
}

// NewPool 创建支付任务池
func NewPool(client payment.Client, workerNum int, bufferSize int) *Pool {
	return &Pool{
		TaskQueue:  make(chan PaymentTask, bufferSize),
		RetryQueue: make(chan PaymentTask, bufferSize/2),
		Client:     client,
		WorkerNum:  workerNum,
		MaxRetry:   3,
	}
}

// Start 启动 worker
func (p *Pool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	log.Printf("Payment worker pool started with %d workers", p.WorkerNum)
}

func (p *Pool) worker(id int) {
	for task := range p.TaskQueue {
		if err := p.processTask(task); err != nil {
			log.Printf("[Worker %d] Payment call failed (order: %s, kind: %s): %v",
				id, task.orderID(), task.Kind, err)

			// 未达到最大重试次数则加入重试队列
			if task.Retry < p.MaxRetry {
				task.Retry++
				select {
				case p.RetryQueue <- task:
					log.Printf("[Worker %d] Task added to retry queue (attempt %d/%d)",
						id, task.Retry, p.MaxRetry)
				default:
					log.Printf("[Worker %d] Retry queue full, task dropped: order %s", id, task.orderID())
					p.logFailedTask(task, err)
				}
			} else {
				log.Printf("[Worker %d] Task exceeded max retries, dropped: order %s", id, task.orderID())
				p.logFailedTask(task, err)
			}
		}
	}
}

func (p *Pool) retryWorker() {
	for task := range p.RetryQueue {
		// 延迟重试，避免立即打到还没恢复的支付服务
		time.Sleep(time.Duration(task.Retry) * time.Second)

		select {
		case p.TaskQueue <- task:
			log.Printf("[RetryWorker] Task re-queued (attempt %d/%d)", task.Retry, p.MaxRetry)
		default:
			log.Printf("[RetryWorker] Main queue full, task dropped: order %s", task.orderID())
			p.logFailedTask(task, nil)
		}
	}
}

func (p *Pool) processTask(task PaymentTask) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch task.Kind {
	case TaskSubmitTx:
		return p.Client.SubmitTransaction(ctx, task.SubmitTx)
	default:
		return p.Client.Pay(ctx, task.Pay)
	}
}

func (p *Pool) logFailedTask(task PaymentTask, err error) {
	// 订单会停在 pending，由惰性超时检查收尾，这里只留痕
	log.Printf("[DeadLetter] Payment task failed permanently: order=%s, kind=%s, error=%v",
		task.orderID(), task.Kind, err)
}

// AddTask 任务入队，队列满时丢弃并留痕
func (p *Pool) AddTask(task PaymentTask) {
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		log.Printf("Payment worker pool queue full, dropping task: order %s", task.orderID())
		p.logFailedTask(task, nil)
	}
}
