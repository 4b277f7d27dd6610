package sqlinline

const QEnqueueTask = `--sql 2952f29b-f7fb-4212-864c-ee2c9824a16c
insert into tasks (id, status, request_json)
values ($1, 'QUEUED', $2::jsonb)
returning created_at;
`

const QClaimTask = `--sql 24c088b3-ed6f-4857-89a3-2f9884925dbf
with next_task as (
    select id
    from tasks
    where status = 'QUEUED'
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update tasks
    set status = 'RUNNING', updated_at = now()
    where id in (select id from next_task)
    returning id, request_json
)
select * from claimed;
`

const QTaskProgress = `--sql 1a33acc5-1b02-4d25-9b86-5db42ca40ced
update tasks
set node = $2, progress = $3, progress_of = $4, updated_at = now()
where id = $1;
`

const QFinishTask = `--sql e2e4ccc4-4125-4030-9d60-5492a730bed4
update tasks
set status = $2, result_json = $3::jsonb, updated_at = now()
where id = $1;
`

const QTaskByID = `--sql aa4e29f2-f358-4ce4-a550-93c15e0a4be2
select id, status, request_json, result_json, node, progress, progress_of, created_at, updated_at
from tasks
where id = $1;
`
